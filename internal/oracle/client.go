// Package oracle wraps the external text-understanding service used for notice extraction,
// relevance judgment and duplicate tie-breaks. Every call may fail; callers own the fallback.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/metrics"
	"github.com/JakeFAU/tender-ingest/internal/tender"
)

var (
	// ErrDisabled is returned by Disabled for every call.
	ErrDisabled = errors.New("oracle disabled")
	// ErrMalformed is returned when a reply cannot be decoded.
	ErrMalformed = errors.New("malformed oracle reply")
	// ErrEmptyReply is returned when the service answers without text.
	ErrEmptyReply = errors.New("empty oracle reply")
)

// Config controls the Anthropic client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	JudgeMaxTokens int
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
}

// Client implements tender.Oracle with the Anthropic Messages API.
type Client struct {
	api    anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.JudgeMaxTokens <= 0 {
		cfg.JudgeMaxTokens = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:    anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.Named("oracle"),
	}
}

// Extract asks the service for every notice in text and decodes the JSON reply.
func (c *Client) Extract(ctx context.Context, text, label string) (tender.Extraction, error) {
	reply, err := c.complete(ctx, extractionSystem, extractionPrompt(text, label), c.cfg.MaxTokens)
	if err == nil {
		var ext tender.Extraction
		ext, err = ParseExtraction(reply)
		if err == nil {
			metrics.ObserveOracleCall("extract", nil)
			c.logger.Debug("extraction decoded",
				zap.String("label", label),
				zap.Int("candidates", len(ext.Candidates)),
				zap.Float64("confidence", ext.Confidence),
			)
			return ext, nil
		}
	}
	metrics.ObserveOracleCall("extract", err)
	return tender.Extraction{}, fmt.Errorf("extract %s: %w", label, err)
}

// Judge sends prompt and returns the raw, bounded reply.
func (c *Client) Judge(ctx context.Context, prompt string) (string, error) {
	reply, err := c.complete(ctx, judgeSystem, prompt, c.cfg.JudgeMaxTokens)
	metrics.ObserveOracleCall("judge", err)
	if err != nil {
		return "", fmt.Errorf("judge: %w", err)
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(c.cfg.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages api: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyReply
	}
	return out, nil
}

// Disabled is the oracle used when none is configured. Every call fails with ErrDisabled so
// call sites take their deterministic fallback.
type Disabled struct{}

// Extract implements tender.Oracle.
func (Disabled) Extract(context.Context, string, string) (tender.Extraction, error) {
	return tender.Extraction{}, ErrDisabled
}

// Judge implements tender.Oracle.
func (Disabled) Judge(context.Context, string) (string, error) { return "", ErrDisabled }
