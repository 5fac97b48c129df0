// Package delegate executes a single delegate agent call: provider
// acquisition, prompt construction with optional document retrieval, a hard
// per-attempt deadline, and bounded retries with exponential back-off.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intellidoc/agentflow/pkg/docaware"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/protocol"
)

// Defaults applied when the node config leaves delegation limits unset.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	defaultMaxTokens   = 1024
	defaultTemperature = 0.4
)

// ErrDelegateFailed marks a terminal delegate failure.
var ErrDelegateFailed = errors.New("delegate execution failed")

// ExecuteInput groups the parameters of one delegation.
type ExecuteInput struct {
	Delegate   *graph.Node
	Delegation *protocol.Delegation
	ProjectID  string
	Timeout    time.Duration
	MaxRetries int

	// PromptOverride replaces the default delegation prompt. Round-robin
	// orchestration builds conversation-aware prompts and still routes them
	// through this executor for uniform retry/timeout/parsing behavior.
	PromptOverride string
}

// Executor runs delegations. It holds no per-call state — Execute is a pure
// function over its inputs, so a failed attempt never leaves partial state.
type Executor struct {
	providers llm.ProviderFactory
	searcher  docaware.Searcher // nil disables document retrieval

	// backoff computes the sleep before retry n (1-based). Overridable in
	// tests.
	backoff func(attempt int) time.Duration
}

// NewExecutor creates a delegate executor. searcher may be nil when document
// retrieval is disabled.
func NewExecutor(providers llm.ProviderFactory, searcher docaware.Searcher) *Executor {
	return &Executor{
		providers: providers,
		searcher:  searcher,
		backoff:   defaultBackoff,
	}
}

// defaultBackoff is exponential capped at 10 seconds: 2s, 4s, 8s, 10s, ...
func defaultBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// Execute runs one delegation with retries. It performs at most
// MaxRetries+1 LLM invocations; deadline and connection errors retry, all
// others surface immediately. The returned response is never nil.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) *models.DelegateResponse {
	name := in.Delegate.DisplayName()
	logger := slog.With("delegate", name, "subquery_id", in.Delegation.SubqueryID)

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := in.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	// Provider acquisition failures are configuration errors — fail fast,
	// no retry.
	client, err := e.providers.ProviderFor(ctx, in.ProjectID,
		in.Delegate.Data.LLMProvider, in.Delegate.Data.LLMModel)
	if err != nil {
		logger.Error("Failed to acquire LLM provider for delegate", "error", err)
		return errorResponse(err, 0)
	}

	prompt := in.PromptOverride
	if prompt == "" {
		prompt = e.buildPrompt(ctx, in)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt)
			logger.Info("Retrying delegate", "attempt", attempt, "max_retries", maxRetries, "backoff", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errorResponse(ctx.Err(), attempt-1)
			}
		}

		resp, err := e.attempt(ctx, client, prompt, in, timeout)
		if err == nil {
			resp.RetryCount = attempt
			logger.Info("Delegate completed", "retry_count", attempt, "response_chars", len(resp.Response))
			return resp
		}

		lastErr = err
		if !llm.IsRetryable(err) {
			logger.Error("Delegate failed with non-retryable error", "attempt", attempt, "error", err)
			return errorResponse(err, attempt)
		}
		logger.Warn("Delegate attempt failed", "attempt", attempt, "error", err)
	}

	logger.Error("Delegate exhausted retries", "attempts", maxRetries+1, "error", lastErr)
	resp := errorResponse(fmt.Errorf("timeout after %d attempts: %w", maxRetries+1, lastErr), maxRetries)
	return resp
}

// attempt performs one LLM invocation under the per-attempt deadline.
func (e *Executor) attempt(ctx context.Context, client llm.Client, prompt string, in ExecuteInput, timeout time.Duration) (*models.DelegateResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := in.Delegate.Data.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := in.Delegate.Data.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	result, err := client.Generate(attemptCtx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, llm.ErrEmptyResponse
	}
	if strings.HasPrefix(text, "ERROR:") {
		return nil, fmt.Errorf("%w: %s", ErrDelegateFailed, text)
	}

	parsed := protocol.ParseDelegateResponse(text)
	if parsed == nil {
		return nil, llm.ErrEmptyResponse
	}

	return &models.DelegateResponse{
		Response:   responseText(parsed, text),
		Status:     parsed.Status,
		Confidence: parsed.Confidence,
		Metadata: map[string]any{
			"tokens_used":      result.TokenCount,
			"response_time_ms": result.ResponseTime.Milliseconds(),
		},
	}, nil
}

// buildPrompt assembles the delegate prompt: system message, optional
// retrieved documents, and the formatted delegation request.
func (e *Executor) buildPrompt(ctx context.Context, in ExecuteInput) string {
	data := in.Delegate.Data
	systemMessage := data.SystemMessage
	if systemMessage == "" {
		systemMessage = "You are a helpful specialized delegate agent."
	}

	var docContext string
	if data.DocAware && e.searcher != nil {
		results, err := e.searcher.Search(ctx, &docaware.SearchRequest{
			ProjectID:      in.ProjectID,
			Query:          in.Delegation.Subquery,
			Method:         data.SearchMethod,
			Parameters:     data.SearchParameters,
			ContentFilters: data.ContentFilters,
			TopK:           docaware.DefaultTopK,
		})
		if err != nil {
			slog.Warn("Document search failed for delegate, continuing without context",
				"delegate", in.Delegate.DisplayName(), "error", err)
		} else {
			docContext = docaware.FormatResults(results, docaware.DefaultTopK)
		}
	}

	return fmt.Sprintf(`You are %s, a specialized delegate agent.

System Message: %s
%s
%s

Instructions:
- Process the delegated subquery carefully
- Provide a clear, actionable response
- If you need clarification, indicate so in your response
- Complete your response with your analysis and recommendations

Your response:`,
		in.Delegate.DisplayName(), systemMessage, docContext, in.Delegation.FormatForDelegate())
}

func responseText(parsed *protocol.Response, raw string) string {
	if parsed.Response != "" {
		return parsed.Response
	}
	return raw
}

func errorResponse(err error, retries int) *models.DelegateResponse {
	return &models.DelegateResponse{
		Response:   "ERROR: " + err.Error(),
		Status:     models.ResponseStatusError,
		Confidence: 0,
		Metadata: map[string]any{
			"error_type": errType(err),
			"retryable":  llm.IsRetryable(err),
		},
		RetryCount: retries,
		Err:        err.Error(),
	}
}

func errType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "timeout"
	}
	return "execution"
}
