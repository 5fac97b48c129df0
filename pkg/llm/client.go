// Package llm provides the provider-agnostic LLM client interface and the
// concrete OpenAI, Anthropic, and Google Gemini implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// GenerateRequest is a single prompt-completion request.
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerateResponse is the result of a completed LLM call.
type GenerateResponse struct {
	Text         string
	TokenCount   int
	ResponseTime time.Duration
}

// Client is the minimal generation interface consumed by the engine.
// Implementations are stateless and safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Sentinel errors.
var (
	ErrEmptyResponse   = errors.New("llm returned empty response")
	ErrMissingAPIKey   = errors.New("no API key available for provider")
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// ProviderError wraps a provider-level failure with retryability info.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether an LLM call error is transient: deadlines,
// connection failures, rate limits, and provider 5xx responses are; auth
// errors, content filters, and malformed requests are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

// retryableStatus classifies HTTP status codes from provider APIs.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
