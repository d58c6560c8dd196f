// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/learning"
	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
	"mcp-nutrition-engine/internal/storage"
	"mcp-nutrition-engine/internal/vision"
)

// Info identifies this server to MCP clients.
var Info = protocol.Implementation{
	Name:    "nutrition-engine",
	Version: "1.0.0",
}

type Config struct {
	Host string
	Port int
}

// CorrectionQueue accepts corrections for background learning.
type CorrectionQueue interface {
	Submit(c models.Correction) error
}

// Deps are the collaborators the tool handlers call into. Oracle may be nil,
// in which case analyze_image is unavailable.
type Deps struct {
	Store      storage.Store
	Engine     *nutrition.Engine
	Oracle     vision.Oracle
	Queue      CorrectionQueue
	Aggregator learning.Applier
}

type NutritionServer struct {
	deps       Deps
	config     *Config
	router     chi.Router
	httpServer *http.Server
}

var (
	errInvalidParams = errors.New("invalid parameters")
	errUnavailable   = errors.New("unavailable")
)

func NewNutritionServer(cfg *Config, deps Deps) (*NutritionServer, error) {
	if deps.Store == nil || deps.Engine == nil {
		return nil, eris.New("server: store and engine are required")
	}

	s := &NutritionServer{deps: deps, config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Get("/health", s.handleHealth)
	r.Post("/", s.handleHTTP)
	s.router = r

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *NutritionServer) Handler() http.Handler {
	return s.router
}

func (s *NutritionServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
		"status":  "ok",
		"name":    Info.Name,
		"version": Info.Version,
	})
}

// handleHTTP decodes one MCP tool call and dispatches it by name.
func (s *NutritionServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var result *protocol.CallToolResult
	var err error

	switch request.Name {
	case "estimate_nutrition":
		result, err = s.handleEstimateNutrition(ctx, &request)
	case "analyze_image":
		result, err = s.handleAnalyzeImage(ctx, &request)
	case "submit_correction":
		result, err = s.handleSubmitCorrection(ctx, &request)
	case "get_learned_food":
		result, err = s.handleGetLearnedFood(ctx, &request)
	case "list_learned_foods":
		result, err = s.handleListLearnedFoods(ctx, &request)
	case "list_corrections":
		result, err = s.handleListCorrections(ctx, &request)
	case "submit_feedback":
		result, err = s.handleSubmitFeedback(ctx, &request)
	case "feedback_stats":
		result, err = s.handleFeedbackStats(ctx, &request)
	default:
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errInvalidParams):
			status = http.StatusBadRequest
		case errors.Is(err, errUnavailable):
			status = http.StatusServiceUnavailable
		}
		zap.L().Warn("server: tool call failed",
			zap.String("tool", request.Name),
			zap.Int("status", status),
			zap.Error(err),
		)
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *NutritionServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func (s *NutritionServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "server: marshal response")
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

// createStatusResponse reports a non-fatal failure inside a successful call.
func (s *NutritionServer) createStatusResponse(data interface{}) (*protocol.CallToolResult, error) {
	result, err := s.createJSONResponse(data)
	if err != nil {
		return nil, err
	}
	result.IsError = true
	return result, nil
}
