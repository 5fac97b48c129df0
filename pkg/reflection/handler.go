// Package reflection implements the cross-agent feedback loop: a source
// agent's output is reviewed by a human behind a UserProxyAgent, who either
// accepts it or sends it back for another iteration. The scheduler never
// traverses the reflection cycle — this handler re-enters the source agent
// with an incremented iteration counter.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/scheduler"
)

// DefaultMaxIterations caps reflection loops when the source agent does not
// configure its own limit.
const DefaultMaxIterations = 3

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// Sentinel errors.
var (
	ErrNoReflectionContext = errors.New("execution has no reflection context")
	ErrSourceNotFound      = errors.New("reflection source node not found")
)

// Outcome reports how a reflection resume ended.
type Outcome struct {
	// Iterated is true when the source agent ran again and the execution
	// paused for another review round.
	Iterated bool
	// FinalResponse is the accepted text when the loop terminated.
	FinalResponse string
}

// Handler drives reflection iterations.
type Handler struct {
	store     scheduler.Store
	providers llm.ProviderFactory
}

// NewHandler creates a reflection handler.
func NewHandler(store scheduler.Store, providers llm.ProviderFactory) *Handler {
	return &Handler{store: store, providers: providers}
}

// Resume processes one human response in a reflection loop. action=submit
// accepts the current candidate; action=iterate re-invokes the source with
// the feedback and pauses again. When the iteration cap is reached, iterate
// degrades to submit semantics with the last candidate.
//
// On termination, executed_nodes is guaranteed to contain the reflection
// source output, so downstream scheduling can proceed.
func (h *Handler) Resume(ctx context.Context, g *graph.Graph, state *models.ExecutionState, humanInput, action string) (*Outcome, error) {
	hctx := state.HumanInputContext
	if hctx == nil || hctx.ReflectionSource == "" {
		return nil, ErrNoReflectionContext
	}
	source := g.NodeByID(hctx.ReflectionSourceID)
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, hctx.ReflectionSourceID)
	}
	proxy := g.NodeByID(hctx.AgentID)

	maxIterations := source.Data.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	iteration := hctx.Iteration
	if iteration <= 0 {
		iteration = 1
	}

	logger := slog.With(
		"execution_id", state.ExecutionID,
		"reflection_source", hctx.ReflectionSource,
		"iteration", iteration,
		"max_iterations", maxIterations,
		"action", action,
	)

	if action == models.HumanInputActionIterate && iteration < maxIterations {
		logger.Info("Reflection iterating")
		return h.iterate(ctx, g, state, source, proxy, humanInput, iteration)
	}

	if action == models.HumanInputActionIterate {
		logger.Info("Reflection iteration cap reached, forcing accept of last candidate")
	} else {
		logger.Info("Reflection accepted")
	}
	return h.accept(ctx, state, source, proxy, humanInput)
}

// accept terminates the loop: the source's current candidate becomes its
// final output and the reviewing proxy is marked executed.
func (h *Handler) accept(ctx context.Context, state *models.ExecutionState, source, proxy *graph.Node, humanInput string) (*Outcome, error) {
	accepted, ok := state.ExecutedNodes[source.ID]
	if !ok || strings.TrimSpace(accepted) == "" {
		// No candidate exists — the human's text is the accepted response.
		accepted = humanInput
	}
	state.ExecutedNodes[source.ID] = accepted

	state.AppendMessage(models.Message{
		AgentName:   source.DisplayName(),
		AgentType:   string(source.Type),
		Content:     accepted,
		MessageType: models.MessageTypeReflectionFinal,
		Timestamp:   time.Now(),
		Metadata:    map[string]any{"reflection_source": source.DisplayName()},
	})

	if proxy != nil {
		state.MarkExecuted(proxy.ID)
	}
	clearReflection(state)

	if err := h.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist accepted reflection: %w", err)
	}
	return &Outcome{FinalResponse: accepted}, nil
}

// iterate re-runs the source agent with the feedback appended and pauses the
// execution again at the reviewing proxy with an incremented iteration.
func (h *Handler) iterate(ctx context.Context, g *graph.Graph, state *models.ExecutionState, source, proxy *graph.Node, feedback string, iteration int) (*Outcome, error) {
	client, err := h.providers.ProviderFor(ctx, state.ProjectID, source.Data.LLMProvider, source.Data.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire LLM provider for reflection source: %w", err)
	}

	previous := state.ExecutedNodes[source.ID]
	agg := graph.AggregateInputs(g.InputSourcesTo(source.ID), state.ExecutedNodes)

	maxTokens := source.Data.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := source.Data.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	start := time.Now()
	resp, err := client.Generate(ctx, &llm.GenerateRequest{
		Prompt:      iteratePrompt(source, agg, previous, feedback, iteration),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("reflection source %s re-run failed: %w", source.DisplayName(), err)
	}
	candidate := strings.TrimSpace(resp.Text)
	if candidate == "" {
		return nil, fmt.Errorf("reflection source %s: %w", source.DisplayName(), llm.ErrEmptyResponse)
	}

	// Reflection sources are the one exception to at-most-once execution:
	// each iteration overwrites the candidate under the same node id.
	state.ExecutedNodes[source.ID] = candidate
	state.AppendMessage(models.Message{
		AgentName:      source.DisplayName(),
		AgentType:      string(source.Type),
		Content:        candidate,
		MessageType:    models.MessageTypeAgentResponse,
		Timestamp:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
		Metadata:       map[string]any{"reflection_iteration": iteration + 1},
	})
	state.AppendConversation(source.DisplayName(), candidate)

	now := time.Now()
	state.HumanInputRequired = true
	state.Status = models.ExecutionStatusRunning
	if proxy != nil {
		state.AwaitingHumanInputAgent = proxy.DisplayName()
		state.HumanInputAgentID = proxy.ID
	}
	state.HumanInputContext = &models.HumanInputContext{
		AgentID:            state.HumanInputAgentID,
		AgentName:          state.AwaitingHumanInputAgent,
		InputSources:       []models.InputRecord{{Name: source.DisplayName(), Content: candidate}},
		InputCount:         1,
		PrimaryInput:       candidate,
		ReflectionSource:   source.DisplayName(),
		ReflectionSourceID: source.ID,
		Iteration:          iteration + 1,
	}
	state.HumanInputRequestedAt = &now
	state.HumanInputReceivedAt = nil

	if err := h.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist reflection iteration: %w", err)
	}
	return &Outcome{Iterated: true}, nil
}

func iteratePrompt(source *graph.Node, agg *graph.AggregatedContext, previous, feedback string, iteration int) string {
	systemMessage := source.Data.SystemMessage
	if systemMessage == "" {
		systemMessage = "You are a helpful assistant agent."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", source.DisplayName())
	fmt.Fprintf(&b, "System Message: %s\n\n", systemMessage)
	if agg.InputCount > 0 {
		fmt.Fprintf(&b, "%s\n\n", agg.FormatPrompt())
	}
	fmt.Fprintf(&b, "Your previous response (iteration %d):\n%s\n\n", iteration, previous)
	fmt.Fprintf(&b, "Reviewer feedback:\n%s\n\n", feedback)
	b.WriteString("Revise your response to address the feedback. Provide the complete revised response.\n\nYour response:")
	return b.String()
}

func clearReflection(state *models.ExecutionState) {
	state.HumanInputRequired = false
	state.AwaitingHumanInputAgent = ""
	state.HumanInputContext = nil
}
