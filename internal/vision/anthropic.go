// internal/vision/anthropic.go
package vision

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mcp-nutrition-engine/internal/models"
)

const systemPrompt = `You identify the foods in meal photos for a nutrition tracker.

Respond with valid JSON only, in exactly this format:
{
  "foods": [
    {"name": "specific food name", "quantity": "portion with units, e.g. 1 cup, 150g, 2 pieces"}
  ],
  "caption": "one sentence describing the plate"
}

Use common dish names (e.g. "chicken biryani", "paneer tikka"), one entry per
distinct food. Estimate portions from plate size and visible volume. If you
cannot tell the foods apart, return an empty "foods" list and describe the
meal in "caption".`

const userPrompt = "Identify every food on this plate and estimate its portion."

type AnthropicConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int64
	RequestsPerMinute int
	Timeout           time.Duration
	// BaseURL overrides the API endpoint; empty means the SDK default.
	BaseURL string
}

// AnthropicOracle asks a Claude vision model what is on the plate.
type AnthropicOracle struct {
	client  sdk.Client
	model   string
	tokens  int64
	timeout time.Duration
	limiter *rate.Limiter
}

func NewAnthropicOracle(cfg AnthropicConfig) (*AnthropicOracle, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("vision: anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicOracle{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		tokens:  cfg.MaxTokens,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (o *AnthropicOracle) Observe(ctx context.Context, img Image) (*models.Observation, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vision: rate limit wait")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	msg, err := o.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(o.model),
		MaxTokens: o.tokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(img.MediaType, img.Base64),
				sdk.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "vision: create message")
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	obs := parseReply(strings.Join(parts, "\n"))

	zap.L().Debug("vision: image observed",
		zap.String("model", o.model),
		zap.Int("detections", len(obs.Detections)),
		zap.Bool("caption_only", len(obs.Detections) == 0),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return obs, nil
}

type reply struct {
	Foods []struct {
		Name     string `json:"name"`
		Quantity string `json:"quantity"`
	} `json:"foods"`
	Caption string `json:"caption"`
}

// parseReply pulls the JSON object out of the model's text. Anything that
// does not parse is kept as a caption so the engine can still extract foods.
func parseReply(text string) *models.Observation {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return &models.Observation{Caption: text}
	}

	var r reply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return &models.Observation{Caption: text}
	}

	obs := &models.Observation{Caption: strings.TrimSpace(r.Caption)}
	for _, f := range r.Foods {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		obs.Detections = append(obs.Detections, models.RawDetection{
			Name:     name,
			Quantity: strings.TrimSpace(f.Quantity),
		})
	}
	return obs
}
