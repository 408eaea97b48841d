package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Map friendly model names to Anthropic model IDs.
var anthropicModels = map[string]string{
	"claude-sonnet-4":   "claude-sonnet-4-20250514",
	"claude-sonnet-4-5": "claude-sonnet-4-5-20250929",
	"claude-opus-4":     "claude-opus-4-20250514",
	"claude-opus-4-5":   "claude-opus-4-5-20251101",
	"claude-haiku-4-5":  "claude-haiku-4-5-20251001",
}

// AnthropicProvider serves claude-* models.
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicProvider creates a provider. SDK-level retries are disabled;
// the executor owns retry policy.
func NewAnthropicProvider(apiKey string, maxTokens int64, opts ...option.RequestOption) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicProvider{client: anthropic.NewClient(opts...), maxTokens: maxTokens}
}

func (p *AnthropicProvider) Generate(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	modelID, ok := anthropicModels[req.Model]
	if !ok {
		modelID = req.Model
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: p.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(req.Schema)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, classifyAnthropic(err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return &ProviderResponse{
				Text:         block.Text,
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			}, nil
		}
	}
	return nil, fmt.Errorf("claude API error: no text content in response")
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return transient(err)
		}
		return fmt.Errorf("claude API error: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isRetryableMessage(err) {
		return transient(err)
	}
	return fmt.Errorf("claude API error: %w", err)
}
