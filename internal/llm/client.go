package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/config"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
	"github.com/praxisworks/hrdesk/internal/pricing"
)

var (
	// ErrSchemaViolation means the model returned output that does not
	// decode into the requested structure. Bounded retries at the caller.
	ErrSchemaViolation = errors.New("model response violates schema")

	// ErrRateLimited means the provider rejected the call with a rate
	// limit. Distinguished from transport errors for budget accounting.
	ErrRateLimited = errors.New("model provider rate limited")

	// ErrTransport covers every other provider/network failure.
	ErrTransport = errors.New("model transport error")
)

// Message is one turn of conversation context for a call.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
}

// Request describes a single schema-constrained model call.
type Request struct {
	Role        string // agent role label for logging/metrics
	Model       string
	Messages    []Message
	SchemaName  string
	Schema      map[string]interface{}
	Temperature float64
	MaxTokens   int
}

// Result carries the raw structured payload plus usage accounting.
type Result struct {
	Raw   json.RawMessage
	Usage models.TokenUsage
	Model string
}

// Client is a thin structured-output wrapper over an OpenAI-compatible
// endpoint. Each call is a pure function of its request; retry policy
// belongs to the calling stage.
type Client struct {
	api    openai.Client
	cfg    config.ModelConfig
	rates  *pricing.Table
	logger *zap.Logger
}

// NewClient creates a model client from configuration. A broken or
// missing pricing table degrades to zero-cost accounting.
func NewClient(cfg config.ModelConfig, logger *zap.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	rates, err := pricing.Load(cfg.PricingPath)
	if err != nil {
		logger.Warn("pricing table unavailable, costs report as zero",
			zap.String("path", cfg.PricingPath), zap.Error(err))
		rates = &pricing.Table{}
	}
	return &Client{
		api:    openai.NewClient(opts...),
		cfg:    cfg,
		rates:  rates,
		logger: logger,
	}
}

// Complete performs one schema-constrained call and decodes the response
// into out. Error classes: ErrSchemaViolation, ErrRateLimited, ErrTransport
// (context errors pass through untouched so deadlines stay recognizable).
func (c *Client) Complete(ctx context.Context, req Request, out interface{}) (*Result, error) {
	started := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toParams(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	params.Temperature = openai.Float(req.Temperature)
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	duration := time.Since(started)
	metrics.ModelCallDuration.WithLabelValues(req.Role).Observe(duration.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		classified := classify(err)
		status := "transport_error"
		if errors.Is(classified, ErrRateLimited) {
			status = "rate_limited"
		}
		metrics.ModelCalls.WithLabelValues(req.Role, status).Inc()
		c.logger.Warn("Model call failed",
			zap.String("role", req.Role),
			zap.String("model", req.Model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, classified
	}

	if len(resp.Choices) == 0 {
		metrics.ModelCalls.WithLabelValues(req.Role, "schema_violation").Inc()
		return nil, fmt.Errorf("%w: empty choice list", ErrSchemaViolation)
	}

	result := &Result{
		Raw:   json.RawMessage(resp.Choices[0].Message.Content),
		Model: req.Model,
		Usage: models.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			CachedTokens:     int(resp.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	result.Usage.CostUSD = c.rates.Cost(req.Model,
		result.Usage.PromptTokens, result.Usage.CompletionTokens)
	metrics.ModelTokens.WithLabelValues(req.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.ModelTokens.WithLabelValues(req.Model, "completion").Add(float64(result.Usage.CompletionTokens))

	if out != nil {
		if err := json.Unmarshal(result.Raw, out); err != nil {
			metrics.ModelCalls.WithLabelValues(req.Role, "schema_violation").Inc()
			c.logger.Warn("Model response failed to decode",
				zap.String("role", req.Role),
				zap.String("model", req.Model),
				zap.Error(err),
			)
			return result, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}

	metrics.ModelCalls.WithLabelValues(req.Role, "ok").Inc()
	c.logger.Debug("Model call completed",
		zap.String("role", req.Role),
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
