package llm

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	sdk   openai.Client
	model string
}

// NewOpenAIClient creates an OpenAI client for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		sdk:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Generate sends the prompt as a single user message and returns the text.
func (c *OpenAIClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	return &GenerateResponse{
		Text:         completion.Choices[0].Message.Content,
		TokenCount:   int(completion.Usage.TotalTokens),
		ResponseTime: time.Since(start),
	}, nil
}

func mapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Provider:   "openai",
			StatusCode: apierr.StatusCode,
			Message:    apierr.Message,
			Retryable:  retryableStatus(apierr.StatusCode),
		}
	}
	return err
}
