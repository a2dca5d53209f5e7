package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/domain"
)

const systemPrompt = `You are a cloud cost analyst. Summarize the optimization
report you are given as a short executive narrative: total potential savings,
the most impactful findings, and any data gaps caused by failed or skipped
tasks. Be concrete and keep it under 300 words.`

// Generator produces report narratives through the Anthropic Messages
// API.
type Generator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *zap.Logger
}

// NewGenerator creates an Anthropic-backed narrative generator.
func NewGenerator(cfg config.ReportConfig, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("report api key is required for the anthropic provider")
	}
	return &Generator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: int64(cfg.MaxTokens),
		logger:    logger,
	}, nil
}

// GenerateNarrative summarizes the report. The caller treats failures
// as degradation, not as a fatal error.
func (g *Generator) GenerateNarrative(ctx context.Context, report *domain.Report) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("failed to serialize report for narrative: %w", err)
	}

	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	narrative := strings.TrimSpace(sb.String())
	if narrative == "" {
		return "", fmt.Errorf("narrative response contained no text")
	}

	g.logger.Debug("narrative generated",
		zap.String("execution_id", report.ExecutionID),
		zap.Int("length", len(narrative)))

	return narrative, nil
}
