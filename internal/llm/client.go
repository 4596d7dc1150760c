// Package llm вызывает языковую модель для генерации и объяснения регулярных выражений.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/models"
)

var (
	// ErrEmptyResponse модель не вернула текст.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrUnknownOperation операция не поддерживается.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Client обёртка над Messages API.
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens map[models.Operation]int64
	timeout   time.Duration
}

// New создаёт клиента. Дополнительные опции нужны тестам (например, option.WithBaseURL).
func New(cfg config.LLM, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		api:   anthropic.NewClient(append(base, opts...)...),
		model: cfg.Model,
		maxTokens: map[models.Operation]int64{
			models.OperationGenerate: positive(cfg.MaxTokensGenerate, 500),
			models.OperationExplain:  positive(cfg.MaxTokensExplain, 1500),
		},
		timeout: timeout,
	}
}

func positive(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

// Transform генерирует выражение по описанию или объясняет выражение.
func (c *Client) Transform(ctx context.Context, op models.Operation, input string) (string, error) {
	const fn = "llm.Transform"

	var system, content string
	switch op {
	case models.OperationGenerate:
		system, content = generatePrompt, input
	case models.OperationExplain:
		system, content = explainPrompt, "Explain this regex: "+input
	default:
		return "", fmt.Errorf("%s: %w: %q", fn, ErrUnknownOperation, op)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens[op],
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", fn, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			if text := strings.TrimSpace(block.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", fn, ErrEmptyResponse)
}
