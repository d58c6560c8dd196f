package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mcp-nutrition-engine/internal/learning"
	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
	"mcp-nutrition-engine/internal/storage"
	"mcp-nutrition-engine/internal/vision"
)

var photo = base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0fake jpeg"))

type fixture struct {
	srv   *NutritionServer
	store *storage.MemoryStore
}

func newFixture(t *testing.T, oracle vision.Oracle, queue CorrectionQueue) fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	engine := nutrition.NewEngine(nutrition.EngineConfig{Learned: st, Threshold: 0.5, MaxConcurrency: 2})
	agg := learning.NewAggregator(st, engine.Parser(), learning.Config{})

	srv, err := NewNutritionServer(&Config{Host: "127.0.0.1", Port: 0}, Deps{
		Store:      st,
		Engine:     engine,
		Oracle:     oracle,
		Queue:      queue,
		Aggregator: agg,
	})
	require.NoError(t, err)
	return fixture{srv: srv, store: st}
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// call posts a tool call and decodes the JSON text payload into out.
func call(t *testing.T, srv *NutritionServer, name string, args map[string]interface{}, out interface{}) (int, toolResult) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	var res toolResult
	if rr.Code != http.StatusOK {
		return rr.Code, res
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), out))
	}
	return rr.Code, res
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)

	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nutrition-engine", body["name"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownToolAndBadJSON(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, _ := call(t, f.srv, "log_meal", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{nope")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestEstimateNutrition_Detections(t *testing.T) {
	f := newFixture(t, nil, nil)

	var resp AnalysisResponse
	code, res := call(t, f.srv, "estimate_nutrition", map[string]interface{}{
		"detections": []map[string]string{
			{"name": "rice", "quantity": "1 cup"},
			{"name": "xyz-unknown-food", "quantity": "200g"},
		},
	}, &resp)

	require.Equal(t, http.StatusOK, code)
	assert.False(t, res.IsError)
	assert.NotEmpty(t, resp.AnalysisID)
	assert.True(t, resp.Detected)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 312, resp.Items[0].Calories)
	assert.Equal(t, 67.2, resp.Items[0].Carbs)
	assert.Equal(t, 300, resp.Items[1].Calories)
	assert.Equal(t, models.LowConfidence, resp.Items[1].Confidence)
	assert.Equal(t, 612, resp.Totals.Calories)
}

func TestEstimateNutrition_CaptionAndEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)

	var resp AnalysisResponse
	_, _ = call(t, f.srv, "estimate_nutrition", map[string]interface{}{"caption": "Two slices of pizza"}, &resp)
	assert.False(t, resp.Detected)
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, "pizza", resp.Items[0].Name)

	resp = AnalysisResponse{}
	_, _ = call(t, f.srv, "estimate_nutrition", map[string]interface{}{}, &resp)
	assert.Empty(t, resp.Items)
	assert.Equal(t, 0, resp.Totals.Calories)
}

func TestEstimateNutrition_InvalidParams(t *testing.T) {
	f := newFixture(t, nil, nil)
	code, _ := call(t, f.srv, "estimate_nutrition", map[string]interface{}{"detections": "rice"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAnalyzeImage(t *testing.T) {
	oracle := vision.Static{Observation: models.Observation{
		Detections: []models.RawDetection{{Name: "chicken breast", Quantity: "150g"}},
		Caption:    "grilled chicken",
	}}
	f := newFixture(t, oracle, nil)

	var resp AnalysisResponse
	code, _ := call(t, f.srv, "analyze_image", map[string]interface{}{"image_base64": photo, "media_type": "image/jpeg"}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Detected)
	assert.Equal(t, "grilled chicken", resp.Caption)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 248, resp.Items[0].Calories)
	assert.Empty(t, resp.Warning)
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Observe(ctx context.Context, img vision.Image) (*models.Observation, error) {
	args := m.Called(ctx, img)
	obs, _ := args.Get(0).(*models.Observation)
	return obs, args.Error(1)
}

func TestAnalyzeImage_PassesNormalizedImage(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Observe", mock.Anything, vision.Image{Base64: photo, MediaType: "image/png"}).
		Return(&models.Observation{Caption: "a bowl of dal with two rotis"}, nil).Once()
	f := newFixture(t, oracle, nil)

	var resp AnalysisResponse
	code, _ := call(t, f.srv, "analyze_image", map[string]interface{}{
		"image_base64": "data:image/png;base64," + photo,
	}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Detected)
	assert.Equal(t, "a bowl of dal with two rotis", resp.Caption)
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, "dal", resp.Items[0].Name)
	oracle.AssertExpectations(t)
}

func TestAnalyzeImage_OracleFailureIsNotFatal(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Observe", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)
	f := newFixture(t, oracle, nil)

	var resp AnalysisResponse
	code, res := call(t, f.srv, "analyze_image", map[string]interface{}{"image_base64": photo}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, res.IsError)
	assert.Empty(t, resp.Items)
	assert.Equal(t, "image could not be analyzed", resp.Warning)
}

func TestAnalyzeImage_Errors(t *testing.T) {
	f := newFixture(t, nil, nil)
	code, _ := call(t, f.srv, "analyze_image", map[string]interface{}{"image_base64": photo}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	f = newFixture(t, vision.Static{}, nil)
	code, _ = call(t, f.srv, "analyze_image", map[string]interface{}{"image_base64": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var resp AnalysisResponse
	code, _ = call(t, f.srv, "analyze_image", map[string]interface{}{"image_base64": photo}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no foods detected", resp.Warning)
}

var paneerArgs = map[string]interface{}{
	"user_id":            "u1",
	"food_name":          "paneer",
	"original_quantity":  "100g",
	"corrected_quantity": "100g",
	"original_calories":  265,
	"corrected_calories": 280,
}

type stubQueue struct {
	err       error
	submitted []models.Correction
}

func (q *stubQueue) Submit(c models.Correction) error {
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, c)
	return nil
}

func TestSubmitCorrection_Queued(t *testing.T) {
	q := &stubQueue{}
	f := newFixture(t, nil, q)

	var resp map[string]string
	code, _ := call(t, f.srv, "submit_correction", paneerArgs, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["correction_id"])

	require.Len(t, q.submitted, 1)
	assert.Equal(t, resp["correction_id"], q.submitted[0].ID)
	assert.Equal(t, 280.0, *q.submitted[0].CorrectedCalories)
}

func TestSubmitCorrection_FullQueueAppliesInline(t *testing.T) {
	f := newFixture(t, nil, &stubQueue{err: learning.ErrQueueFull})

	var resp map[string]string
	_, _ = call(t, f.srv, "submit_correction", paneerArgs, &resp)
	assert.Equal(t, "accepted", resp["status"])

	lf, err := f.store.GetLearnedFood(context.Background(), "paneer")
	require.NoError(t, err)
	assert.Equal(t, 1, lf.SampleCount)
	assert.Equal(t, 280.0, lf.AvgCaloriesPer100g)
}

type stubApplier struct{ err error }

func (a stubApplier) Apply(context.Context, *models.Correction) (*models.LearnedFood, error) {
	return nil, a.err
}

func TestSubmitCorrection_InlineFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  string
		isError bool
	}{
		{"conflict retries exhausted", fmt.Errorf("learning: update learned food paneer: %w", storage.ErrConflict), "accepted", false},
		{"storage failure", errors.New("disk I/O error"), "failed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, &stubQueue{err: learning.ErrQueueFull})
			f.srv.deps.Aggregator = stubApplier{err: tt.err}

			var resp map[string]string
			code, res := call(t, f.srv, "submit_correction", paneerArgs, &resp)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.status, resp["status"])
			assert.Equal(t, tt.isError, res.IsError)
			assert.NotEmpty(t, resp["correction_id"])
		})
	}
}

func TestSubmitCorrection_NoQueue(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, _ = call(t, f.srv, "submit_correction", paneerArgs, nil)

	var found struct {
		Found       bool               `json:"found"`
		LearnedFood models.LearnedFood `json:"learned_food"`
	}
	_, _ = call(t, f.srv, "get_learned_food", map[string]interface{}{"name": "Paneer"}, &found)
	assert.True(t, found.Found)
	assert.Equal(t, 1, found.LearnedFood.SampleCount)
}

func TestSubmitCorrection_Invalid(t *testing.T) {
	q := &stubQueue{}
	f := newFixture(t, nil, q)

	code, _ := call(t, f.srv, "submit_correction", map[string]interface{}{"food_name": "paneer"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, q.submitted)
}

func TestSubmitCorrection_QueueError(t *testing.T) {
	f := newFixture(t, nil, &stubQueue{err: errors.New("boom")})
	code, _ := call(t, f.srv, "submit_correction", paneerArgs, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestLearnedFoodTools(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SaveLearnedFood(ctx, &models.LearnedFood{
		FoodName: "Dosa", FoodNameNormalized: "dosa", AvgCaloriesPer100g: 168, SampleCount: 6, ConfidenceScore: 0.6,
	}, 0))
	require.NoError(t, f.store.SaveLearnedFood(ctx, &models.LearnedFood{
		FoodName: "Idli", FoodNameNormalized: "idli", AvgCaloriesPer100g: 58, SampleCount: 1, ConfidenceScore: 0.2,
	}, 0))

	var found map[string]interface{}
	_, _ = call(t, f.srv, "get_learned_food", map[string]interface{}{"name": "sushi"}, &found)
	assert.Equal(t, false, found["found"])

	code, _ := call(t, f.srv, "get_learned_food", map[string]interface{}{"name": " "}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var foods []models.LearnedFood
	_, _ = call(t, f.srv, "list_learned_foods", map[string]interface{}{"min_confidence": 0.5}, &foods)
	require.Len(t, foods, 1)
	assert.Equal(t, "dosa", foods[0].FoodNameNormalized)

	foods = nil
	_, _ = call(t, f.srv, "list_learned_foods", map[string]interface{}{}, &foods)
	assert.Len(t, foods, 2)

	code, _ = call(t, f.srv, "list_learned_foods", map[string]interface{}{"min_confidence": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListCorrections(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, _ = call(t, f.srv, "submit_correction", paneerArgs, nil)

	var corrections []models.Correction
	_, _ = call(t, f.srv, "list_corrections", map[string]interface{}{"food_name": "paneer"}, &corrections)
	require.Len(t, corrections, 1)
	assert.Equal(t, "u1", corrections[0].UserID)

	corrections = nil
	_, _ = call(t, f.srv, "list_corrections", map[string]interface{}{"user_id": "someone-else"}, &corrections)
	assert.Empty(t, corrections)
}

func TestFeedbackTools(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, accurate := range []bool{true, true, false} {
		var resp map[string]string
		_, _ = call(t, f.srv, "submit_feedback", map[string]interface{}{
			"user_id": "u1", "analysis_id": "a1", "is_accurate": accurate,
		}, &resp)
		assert.Equal(t, "recorded", resp["status"])
	}

	var stats models.FeedbackStats
	_, _ = call(t, f.srv, "feedback_stats", nil, &stats)
	assert.Equal(t, models.FeedbackStats{Total: 3, Accurate: 2, AccuracyRate: 66.7}, stats)
}

func TestNewNutritionServer_RequiresDeps(t *testing.T) {
	_, err := NewNutritionServer(&Config{}, Deps{})
	assert.Error(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Start(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
