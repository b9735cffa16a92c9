package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/praxisworks/hrdesk/internal/llm"
	"github.com/praxisworks/hrdesk/internal/metrics"
	"github.com/praxisworks/hrdesk/internal/models"
)

// ModelClient is the slice of the LLM client the compressor needs.
type ModelClient interface {
	Complete(ctx context.Context, req llm.Request, out interface{}) (*llm.Result, error)
}

// Compressor folds the oldest transcript entries into a fixed-size
// summary once the transcript grows past a token threshold. The last
// KeepVerbatim entries are always left untouched so the model keeps
// full detail on recent turns.
type Compressor struct {
	model         ModelClient
	modelName     string
	triggerTokens int
	summaryTokens int
	keepVerbatim  int
	logger        *zap.Logger
}

type CompressorConfig struct {
	Model         string
	TriggerTokens int
	SummaryTokens int
	KeepVerbatim  int
}

func NewCompressor(model ModelClient, cfg CompressorConfig, logger *zap.Logger) *Compressor {
	if cfg.KeepVerbatim <= 0 {
		cfg.KeepVerbatim = 4
	}
	if cfg.TriggerTokens <= 0 {
		cfg.TriggerTokens = 6000
	}
	if cfg.SummaryTokens <= 0 {
		cfg.SummaryTokens = 600
	}
	return &Compressor{
		model:         model,
		modelName:     cfg.Model,
		triggerTokens: cfg.TriggerTokens,
		summaryTokens: cfg.SummaryTokens,
		keepVerbatim:  cfg.KeepVerbatim,
		logger:        logger,
	}
}

type summaryOut struct {
	Summary string `json:"summary"`
}

var summarySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"summary": map[string]interface{}{"type": "string"},
	},
	"required":             []string{"summary"},
	"additionalProperties": false,
}

// MaybeCompress compresses the buffer in place when it is over the
// trigger threshold. It reports token usage for the summarization
// call. A failed model call leaves the buffer exactly as it was;
// compression is best effort and never fails the task.
func (c *Compressor) MaybeCompress(ctx context.Context, buf *Buffer) (models.TokenUsage, error) {
	var usage models.TokenUsage
	if buf.EstimatedTokens() <= c.triggerTokens {
		return usage, nil
	}

	entries := buf.Entries()
	cut := len(entries) - c.keepVerbatim
	if cut <= 0 {
		return usage, nil
	}
	prefix := entries[:cut]

	// Re-running over an already compressed buffer is a no-op until
	// new entries pile up past the summary.
	fresh := 0
	for _, e := range prefix {
		if e.Kind != KindSummary {
			fresh++
		}
	}
	if fresh == 0 {
		return usage, nil
	}

	absorbed := 0
	var sb strings.Builder
	for _, e := range prefix {
		if e.Kind == KindSummary {
			absorbed += e.Absorbed
			fmt.Fprintf(&sb, "[earlier summary] %s\n", e.Content)
			continue
		}
		absorbed++
		fmt.Fprintf(&sb, "[%s] %s\n", e.Kind, e.Content)
	}

	start := time.Now()
	var out summaryOut
	res, err := c.model.Complete(ctx, llm.Request{
		Role:  "history_compressor",
		Model: c.modelName,
		Messages: []llm.Message{
			{Role: "system", Content: compressSystemPrompt(c.summaryTokens)},
			{Role: "user", Content: sb.String()},
		},
		SchemaName: "transcript_summary",
		Schema:     summarySchema,
		MaxTokens:  c.summaryTokens + c.summaryTokens/4,
	}, &out)
	if res != nil {
		usage = res.Usage
	}
	if err != nil {
		c.logger.Warn("history compression failed, keeping transcript verbatim",
			zap.Int("entries", len(prefix)),
			zap.Error(err))
		return usage, err
	}

	compressed := make([]Entry, 0, c.keepVerbatim+1)
	compressed = append(compressed, Entry{
		Kind:     KindSummary,
		Content:  out.Summary,
		Absorbed: absorbed,
	})
	compressed = append(compressed, entries[cut:]...)
	buf.entries = compressed

	metrics.HistoryCompressions.Inc()
	c.logger.Debug("transcript compressed",
		zap.Int("absorbed", absorbed),
		zap.Duration("duration", time.Since(start)))
	return usage, nil
}

func compressSystemPrompt(budget int) string {
	return fmt.Sprintf(`You compress an agent's working transcript. Summarize the entries
below into at most %d tokens. Preserve, in order: facts retrieved from
tools, entity identifiers, decisions already taken, and anything the
agent still owes the caller. Drop tool call mechanics and repetition.`, budget)
}
