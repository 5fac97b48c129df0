package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicClient creates an Anthropic client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Generate sends the prompt as a single user message and returns the
// concatenated text blocks.
func (c *AnthropicClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	// The messages API requires max_tokens.
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	return &GenerateResponse{
		Text:         text.String(),
		TokenCount:   int(message.Usage.InputTokens + message.Usage.OutputTokens),
		ResponseTime: time.Since(start),
	}, nil
}

func mapAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Provider:   "anthropic",
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Retryable:  retryableStatus(apierr.StatusCode),
		}
	}
	return err
}
