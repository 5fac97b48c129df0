// Package humaninput implements the resume half of the human-in-the-loop
// state machine: it accepts human responses for paused executions, records
// audit interactions, routes the input into the workflow, and restarts the
// scheduler (or the reflection handler) from refreshed durable state.
package humaninput

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
	"github.com/intellidoc/agentflow/pkg/reflection"
	"github.com/intellidoc/agentflow/pkg/scheduler"
)

// Sentinel errors.
var (
	ErrNotAwaitingInput  = errors.New("execution is not awaiting human input")
	ErrExecutionNotFound = errors.New("execution not found")
)

// WorkflowLoader resolves the graph of a stored workflow.
type WorkflowLoader interface {
	GetWorkflowGraph(ctx context.Context, workflowID string) (*graph.Graph, error)
}

// InteractionRecorder persists human input audit records.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, interaction *models.HumanInputInteraction) error
}

// ResumeResult reports how a resume call ended: the workflow either ran to a
// terminal state or paused again.
type ResumeResult struct {
	ExecutionID string
	Status      models.ExecutionStatus
	FinalOutput string
	Paused      bool
	PausedAgent string
	Message     string
}

// Controller resumes paused executions.
type Controller struct {
	store        scheduler.Store
	interactions InteractionRecorder
	workflows    WorkflowLoader
	scheduler    *scheduler.Scheduler
	reflection   *reflection.Handler

	// Optional document-aware processing of human input.
	providers llm.ProviderFactory
	searcher  docaware.Searcher
}

// NewController creates a resume controller.
func NewController(store scheduler.Store, interactions InteractionRecorder, workflows WorkflowLoader, sched *scheduler.Scheduler, refl *reflection.Handler) *Controller {
	return &Controller{
		store:        store,
		interactions: interactions,
		workflows:    workflows,
		scheduler:    sched,
		reflection:   refl,
	}
}

// SetDocAware enables document-aware human input processing: when a paused
// UserProxyAgent has doc_aware set, the human input becomes a document
// search query and the routed value is an LLM summary over the results.
func (c *Controller) SetDocAware(providers llm.ProviderFactory, searcher docaware.Searcher) {
	c.providers = providers
	c.searcher = searcher
}

// Resume delivers a human response to a paused execution and continues it.
// A second submit for the same pause is rejected with ErrNotAwaitingInput —
// the first one cleared the flag.
func (c *Controller) Resume(ctx context.Context, executionID, humanInput, action string) (*ResumeResult, error) {
	logger := slog.With("execution_id", executionID, "action", action)
	logger.Info("Resuming execution with human input")

	state, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	// Standard acceptance requires the pause flag; executions still marked
	// running or pending are accepted as a deployment edge case.
	if !state.HumanInputRequired {
		switch state.Status {
		case models.ExecutionStatusRunning, models.ExecutionStatusPending:
			logger.Warn("Execution accepted without human_input_required flag")
		default:
			return nil, fmt.Errorf("%w: status=%s", ErrNotAwaitingInput, state.Status)
		}
	}

	if action != models.HumanInputActionIterate {
		action = models.HumanInputActionSubmit
	}

	g, err := c.workflows.GetWorkflowGraph(ctx, state.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow graph: %w", err)
	}

	c.recordInteraction(ctx, state, humanInput, action)

	now := time.Now()
	state.HumanInputRequired = false
	state.HumanInputReceivedAt = &now

	// The input joins the conversation regardless of routing.
	agentName := state.AwaitingHumanInputAgent
	proxyID := state.HumanInputAgentID
	outgoing := g.OutgoingEdges(proxyID)
	metadata := map[string]any{
		"input_method":       "human_input",
		"has_outgoing_edges": len(outgoing) > 0,
	}
	if hctx := state.HumanInputContext; hctx != nil && hctx.ReflectionSource != "" {
		metadata["input_method"] = "reflection_feedback"
		metadata["reflection_source"] = hctx.ReflectionSource
		metadata["iteration"] = hctx.Iteration
	}
	state.AppendMessage(models.Message{
		AgentName:   agentName,
		AgentType:   string(graph.NodeTypeUserProxyAgent),
		Content:     humanInput,
		MessageType: models.MessageTypeHumanInput,
		Timestamp:   now,
		Metadata:    metadata,
	})
	state.AppendConversation(agentName, humanInput)

	// Reflection pauses hand off to the feedback loop.
	if hctx := state.HumanInputContext; hctx != nil && hctx.ReflectionSource != "" {
		return c.resumeReflection(ctx, g, state, humanInput, action)
	}

	// Route the input: with outgoing edges the downstream agents consume it
	// from executed_nodes; without, it stays a history-only annotation.
	if proxyID != "" {
		if len(outgoing) > 0 {
			routed := humanInput
			if proxy := g.NodeByID(proxyID); proxy != nil && proxy.Data.DocAware {
				routed = c.processDocAwareInput(ctx, proxy, state, humanInput)
			}
			if state.ExecutedNodes == nil {
				state.ExecutedNodes = make(map[string]string)
			}
			state.ExecutedNodes[proxyID] = routed
			logger.Info("Routed human input to executed nodes", "node_id", proxyID, "targets", len(outgoing))
		} else {
			state.MarkExecuted(proxyID)
			logger.Info("Human input recorded in history only; proxy has no outgoing edges", "node_id", proxyID)
		}
	}
	state.AwaitingHumanInputAgent = ""
	state.HumanInputContext = nil

	// Persist before continuing so the scheduler's refresh sees the input.
	if err := c.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist resumed state: %w", err)
	}

	return c.continueScheduler(ctx, g, state)
}

// resumeReflection delegates to the reflection handler and continues the
// scheduler when the loop terminated.
func (c *Controller) resumeReflection(ctx context.Context, g *graph.Graph, state *models.ExecutionState, humanInput, action string) (*ResumeResult, error) {
	hctx := state.HumanInputContext
	reflectionSource := hctx.ReflectionSource

	outcome, err := c.reflection.Resume(ctx, g, state, humanInput, action)
	if err != nil {
		return nil, fmt.Errorf("reflection resume failed: %w", err)
	}

	if outcome.Iterated {
		return &ResumeResult{
			ExecutionID: state.ExecutionID,
			Status:      models.ExecutionStatusAwaitingHumanInput,
			Paused:      true,
			PausedAgent: state.AwaitingHumanInputAgent,
			Message:     fmt.Sprintf("Reflection iteration %d awaiting review", state.HumanInputContext.Iteration),
		}, nil
	}

	// The reflection handler just persisted its final state. Refresh from
	// storage, but never let the refresh drop the messages it wrote — keep
	// the longer list, or the one ending in the expected reflection_final.
	state = c.refreshPreservingMessages(ctx, state, reflectionSource)

	return c.continueScheduler(ctx, g, state)
}

// continueScheduler re-enters the scheduler, which recomputes the ready set
// from executed_nodes — node names are not unique, so no stored position is
// trusted.
func (c *Controller) continueScheduler(ctx context.Context, g *graph.Graph, state *models.ExecutionState) (*ResumeResult, error) {
	result, err := c.scheduler.Run(ctx, g, state)
	if err != nil {
		return &ResumeResult{
			ExecutionID: state.ExecutionID,
			Status:      models.ExecutionStatusFailed,
			Message:     "human input recorded but workflow continuation failed: " + err.Error(),
		}, err
	}

	if result.Paused {
		return &ResumeResult{
			ExecutionID: state.ExecutionID,
			Status:      models.ExecutionStatusAwaitingHumanInput,
			Paused:      true,
			PausedAgent: result.PausedAgent,
			Message:     fmt.Sprintf("Workflow paused - %s requires human input", result.PausedAgent),
		}, nil
	}

	return &ResumeResult{
		ExecutionID: state.ExecutionID,
		Status:      result.Status,
		FinalOutput: result.FinalOutput,
		Message:     "workflow resumed and completed",
	}, nil
}

// refreshPreservingMessages reloads the execution while guarding against a
// stale read overwriting the reflection handler's just-persisted messages.
func (c *Controller) refreshPreservingMessages(ctx context.Context, local *models.ExecutionState, reflectionSource string) *models.ExecutionState {
	stored, err := c.store.GetExecution(ctx, local.ExecutionID)
	if err != nil {
		slog.Warn("Failed to refresh execution after reflection, using local state",
			"execution_id", local.ExecutionID, "error", err)
		return local
	}

	if len(local.MessagesData) > len(stored.MessagesData) {
		stored.MessagesData = local.MessagesData
		stored.TotalMessages = len(local.MessagesData)
	} else if !hasReflectionFinal(stored.MessagesData, reflectionSource) && hasReflectionFinal(local.MessagesData, reflectionSource) {
		stored.MessagesData = local.MessagesData
		stored.TotalMessages = len(local.MessagesData)
	}

	// Local executed nodes win on conflict — they reflect the reflection
	// handler's writes.
	if stored.ExecutedNodes == nil {
		stored.ExecutedNodes = make(map[string]string)
	}
	for id, output := range local.ExecutedNodes {
		stored.ExecutedNodes[id] = output
	}
	for _, id := range local.ExecutedMarkers {
		stored.MarkExecuted(id)
	}
	stored.ConversationHistory = local.ConversationHistory
	stored.HumanInputRequired = false
	stored.AwaitingHumanInputAgent = ""
	stored.HumanInputContext = nil
	return stored
}

func hasReflectionFinal(messages []models.Message, source string) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.MessageType == models.MessageTypeReflectionFinal && m.AgentName == source {
			return true
		}
	}
	return false
}

// processDocAwareInput searches the project documents with the human input
// as query and summarizes the results with the proxy's LLM. Any failure
// falls back to routing the raw input.
func (c *Controller) processDocAwareInput(ctx context.Context, proxy *graph.Node, state *models.ExecutionState, humanInput string) string {
	if c.searcher == nil || c.providers == nil {
		return humanInput
	}
	logger := slog.With("execution_id", state.ExecutionID, "agent", proxy.DisplayName())

	results, err := c.searcher.Search(ctx, &docaware.SearchRequest{
		ProjectID:      state.ProjectID,
		Query:          humanInput,
		Method:         proxy.Data.SearchMethod,
		Parameters:     proxy.Data.SearchParameters,
		ContentFilters: proxy.Data.ContentFilters,
		TopK:           docaware.DefaultTopK,
	})
	if err != nil {
		logger.Warn("Document search failed for human input, routing raw input", "error", err)
		return humanInput
	}
	if len(results) == 0 {
		return fmt.Sprintf("I searched for information about %q but no relevant documents were found.", humanInput)
	}

	client, err := c.providers.ProviderFor(ctx, state.ProjectID, proxy.Data.LLMProvider, proxy.Data.LLMModel)
	if err != nil {
		logger.Warn("No LLM provider for document summarization, routing raw input", "error", err)
		return humanInput
	}

	systemMessage := proxy.Data.SystemMessage
	if systemMessage == "" {
		systemMessage = "You are a helpful assistant that summarizes retrieved documents to answer user questions."
	}
	prompt := fmt.Sprintf(`%s

The user asked: %q

I have retrieved the following relevant documents from the project knowledge base:
%s
Please provide a comprehensive and helpful response to the user's question based on the retrieved documents. If the documents don't contain sufficient information to answer the question, please say so clearly.

Response:`, systemMessage, humanInput, docaware.FormatResults(results, docaware.DefaultTopK))

	maxTokens := proxy.Data.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temperature := proxy.Data.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	resp, err := client.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		logger.Warn("Document summarization failed, routing raw input", "error", err)
		return humanInput
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return humanInput
	}
	logger.Info("Routed document-aware summary of human input", "summary_chars", len(summary))
	return summary
}

func (c *Controller) recordInteraction(ctx context.Context, state *models.ExecutionState, humanInput, action string) {
	if c.interactions == nil {
		return
	}
	interaction := &models.HumanInputInteraction{
		ExecutionID:              state.ExecutionID,
		AgentName:                state.AwaitingHumanInputAgent,
		AgentID:                  state.HumanInputAgentID,
		HumanResponse:            humanInput,
		Action:                   action,
		ConversationContext:      state.ConversationHistory,
		RequestedAt:              state.HumanInputRequestedAt,
		RespondedAt:              time.Now(),
		WorkflowPausedAtSequence: state.TotalMessages,
	}
	if hctx := state.HumanInputContext; hctx != nil {
		interaction.InputMessages = hctx.InputSources
		interaction.InputSourcesCount = hctx.InputCount
	}
	if err := c.interactions.RecordInteraction(ctx, interaction); err != nil {
		slog.Warn("Failed to record human input interaction",
			"execution_id", state.ExecutionID, "error", err)
	}
}
