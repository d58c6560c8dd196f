// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/learning"
	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/storage"
	"mcp-nutrition-engine/internal/vision"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type EstimateNutritionParams struct {
	Detections []models.RawDetection `json:"detections,omitempty" description:"Detected foods with portion sizes"`
	Caption    string                `json:"caption,omitempty" description:"Free-text meal description, used when there are no detections"`
}

type AnalyzeImageParams struct {
	ImageBase64 string `json:"image_base64" description:"Base64 encoded meal photo, optionally as a data URL"`
	MediaType   string `json:"media_type,omitempty" description:"Image media type (defaults to image/jpeg)"`
}

type GetLearnedFoodParams struct {
	Name string `json:"name" description:"Food name to look up"`
}

type ListLearnedFoodsParams struct {
	MinConfidence float64 `json:"min_confidence,omitempty" description:"Only foods at or above this confidence"`
	Limit         int     `json:"limit,omitempty" description:"Maximum number of foods to return"`
}

type ListCorrectionsParams struct {
	FoodName string `json:"food_name,omitempty" description:"Only corrections for this food"`
	UserID   string `json:"user_id,omitempty" description:"Only corrections by this user"`
	Limit    int    `json:"limit,omitempty" description:"Maximum number of corrections to return"`
}

type SubmitFeedbackParams struct {
	UserID     string `json:"user_id" description:"User giving the feedback"`
	AnalysisID string `json:"analysis_id,omitempty" description:"Analysis the feedback refers to"`
	IsAccurate bool   `json:"is_accurate" description:"Whether the analysis was accurate"`
	Text       string `json:"feedback_text,omitempty" description:"Optional comment"`
}

// AnalysisResponse is an Analysis plus the context it was produced in.
type AnalysisResponse struct {
	AnalysisID string `json:"analysis_id"`
	models.Analysis
	Caption  string `json:"caption,omitempty"`
	Detected bool   `json:"detected"`
	Warning  string `json:"warning,omitempty"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return eris.Wrapf(errInvalidParams, "marshal arguments: %v", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return eris.Wrapf(errInvalidParams, "unmarshal arguments: %v", err)
	}

	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// handleEstimateNutrition estimates detections, or extracts foods from the
// caption when there are none.
func (s *NutritionServer) handleEstimateNutrition(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params EstimateNutritionParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	obs := &models.Observation{Detections: params.Detections, Caption: params.Caption}
	analysis := s.deps.Engine.Analyze(ctx, obs)

	return s.createJSONResponse(AnalysisResponse{
		AnalysisID: uuid.New().String(),
		Analysis:   analysis,
		Caption:    strings.TrimSpace(params.Caption),
		Detected:   len(params.Detections) > 0,
	})
}

// handleAnalyzeImage runs the vision oracle and estimates what it saw. An
// oracle failure still yields an analysis, built from nothing.
func (s *NutritionServer) handleAnalyzeImage(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalyzeImageParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if s.deps.Oracle == nil {
		return nil, eris.Wrap(errUnavailable, "image analysis is not configured")
	}

	img := vision.Image{Base64: params.ImageBase64, MediaType: params.MediaType}
	if err := img.Validate(); err != nil {
		return nil, eris.Wrap(errInvalidParams, err.Error())
	}

	resp := AnalysisResponse{AnalysisID: uuid.New().String()}
	obs, err := s.deps.Oracle.Observe(ctx, img)
	if err != nil {
		zap.L().Warn("server: vision oracle failed", zap.Error(err))
		resp.Warning = "image could not be analyzed"
		obs = &models.Observation{}
	}

	resp.Analysis = s.deps.Engine.Analyze(ctx, obs)
	resp.Caption = obs.Caption
	resp.Detected = len(obs.Detections) > 0
	if len(resp.Items) == 0 && resp.Warning == "" {
		resp.Warning = "no foods detected"
	}
	return s.createJSONResponse(resp)
}

// handleSubmitCorrection queues a correction for learning. When the queue
// cannot take it the correction is applied before answering.
func (s *NutritionServer) handleSubmitCorrection(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var c models.Correction
	if err := extractParams(req, &c); err != nil {
		return nil, err
	}
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()

	if err := learning.Validate(&c); err != nil {
		return nil, eris.Wrap(errInvalidParams, err.Error())
	}

	accepted := map[string]string{"status": "accepted", "correction_id": c.ID}
	if s.deps.Queue != nil {
		err := s.deps.Queue.Submit(c)
		if err == nil {
			return s.createJSONResponse(accepted)
		}
		if !errors.Is(err, learning.ErrQueueFull) && !errors.Is(err, learning.ErrQueueClosed) {
			return nil, err
		}
		zap.L().Warn("server: correction queue unavailable, applying inline",
			zap.String("food", c.FoodName),
			zap.Error(err),
		)
	}
	if s.deps.Aggregator == nil {
		return nil, eris.Wrap(errUnavailable, "learning is not configured")
	}

	if _, err := s.deps.Aggregator.Apply(ctx, &c); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			zap.L().Warn("server: correction lost a write race",
				zap.String("food", c.FoodName),
				zap.String("correction_id", c.ID),
				zap.Error(err),
			)
			return s.createJSONResponse(accepted)
		}
		return s.createStatusResponse(map[string]string{
			"status":        "failed",
			"correction_id": c.ID,
			"error":         err.Error(),
		})
	}
	return s.createJSONResponse(accepted)
}

func (s *NutritionServer) handleGetLearnedFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetLearnedFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, eris.Wrap(errInvalidParams, "name is required")
	}

	lf, err := s.deps.Store.FindLearnedFood(ctx, params.Name)
	if errors.Is(err, storage.ErrNotFound) {
		return s.createJSONResponse(map[string]interface{}{"found": false, "name": params.Name})
	}
	if err != nil {
		return nil, eris.Wrap(err, "server: find learned food")
	}

	return s.createJSONResponse(map[string]interface{}{"found": true, "learned_food": lf})
}

func (s *NutritionServer) handleListLearnedFoods(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListLearnedFoodsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.MinConfidence < 0 || params.MinConfidence > 1 {
		return nil, eris.Wrap(errInvalidParams, "min_confidence must be between 0 and 1")
	}

	foods, err := s.deps.Store.ListLearnedFoods(ctx, storage.LearnedFilter{
		MinConfidence: params.MinConfidence,
		Limit:         clampLimit(params.Limit),
	})
	if err != nil {
		return nil, eris.Wrap(err, "server: list learned foods")
	}
	if foods == nil {
		foods = []models.LearnedFood{}
	}

	return s.createJSONResponse(foods)
}

func (s *NutritionServer) handleListCorrections(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListCorrectionsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	corrections, err := s.deps.Store.ListCorrections(ctx, storage.CorrectionFilter{
		FoodName: params.FoodName,
		UserID:   params.UserID,
		Limit:    clampLimit(params.Limit),
	})
	if err != nil {
		return nil, eris.Wrap(err, "server: list corrections")
	}
	if corrections == nil {
		corrections = []models.Correction{}
	}

	return s.createJSONResponse(corrections)
}

func (s *NutritionServer) handleSubmitFeedback(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SubmitFeedbackParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	fb := &models.Feedback{
		ID:         uuid.New().String(),
		UserID:     params.UserID,
		AnalysisID: params.AnalysisID,
		IsAccurate: params.IsAccurate,
		Text:       strings.TrimSpace(params.Text),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.deps.Store.RecordFeedback(ctx, fb); err != nil {
		return s.createStatusResponse(map[string]string{"status": "failed", "error": err.Error()})
	}

	return s.createJSONResponse(map[string]string{"status": "recorded", "feedback_id": fb.ID})
}

func (s *NutritionServer) handleFeedbackStats(ctx context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	stats, err := s.deps.Store.FeedbackStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "server: feedback stats")
	}
	return s.createJSONResponse(stats)
}
