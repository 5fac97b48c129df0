package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intellidoc/agentflow/pkg/docaware"
	"github.com/intellidoc/agentflow/pkg/gcm"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

const (
	defaultAgentMaxTokens   = 1024
	defaultAgentTemperature = 0.7
)

// ExecContext carries everything a node executor needs for one node run.
type ExecContext struct {
	Graph *graph.Graph
	Node  *graph.Node
	State *models.ExecutionState
	Agg   *graph.AggregatedContext
}

// PauseRequest signals that execution must suspend for human input.
type PauseRequest struct {
	Node *graph.Node
}

// NodeResult is the outcome of executing one node.
type NodeResult struct {
	// Output is the node's textual result. Stored in executed_nodes unless
	// MarkerOnly is set.
	Output string
	// MarkerOnly nodes complete without consumable output (Start/End).
	MarkerOnly bool
	// Message is appended to the conversation history when non-nil.
	Message *models.Message
	// Pause requests suspension instead of completion.
	Pause *PauseRequest
	// DelegateConversations carries a GCM's structured conversation log.
	DelegateConversations []string
}

// NodeExecutor executes one node type. A registry maps NodeType to executor;
// node types outside the registry are rejected at validation time.
type NodeExecutor interface {
	Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error)
}

// markerExecutor handles Start and End nodes: no LLM work, a sentinel
// message records the boundary. A StartNode additionally publishes the
// execution's initial input as its output, so downstream agents consume the
// submitted prompt like any other upstream result.
type markerExecutor struct{}

func (markerExecutor) Execute(_ context.Context, ec *ExecContext) (*NodeResult, error) {
	message := &models.Message{
		AgentName:   ec.Node.DisplayName(),
		AgentType:   string(ec.Node.Type),
		MessageType: models.MessageTypeSystem,
		Timestamp:   time.Now(),
	}
	if ec.Node.Type == graph.NodeTypeStart {
		message.Content = "Workflow started"
		return &NodeResult{Output: ec.State.InitialInput, Message: message}, nil
	}
	message.Content = "Workflow completed"
	return &NodeResult{MarkerOnly: true, Message: message}, nil
}

// assistantExecutor handles AssistantAgent nodes and top-level
// DelegateAgents encountered outside a GCM context.
type assistantExecutor struct {
	providers llm.ProviderFactory
	searcher  docaware.Searcher
}

func (e *assistantExecutor) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	node := ec.Node
	logger := slog.With("agent", node.DisplayName(), "node_id", node.ID)

	client, err := e.providers.ProviderFor(ctx, ec.State.ProjectID, node.Data.LLMProvider, node.Data.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire LLM provider for %s: %w", node.DisplayName(), err)
	}

	prompt := e.buildPrompt(ctx, ec)

	maxTokens := node.Data.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAgentMaxTokens
	}
	temperature := node.Data.Temperature
	if temperature <= 0 {
		temperature = defaultAgentTemperature
	}

	start := time.Now()
	resp, err := client.Generate(ctx, &llm.GenerateRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s LLM call failed: %w", node.DisplayName(), err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("agent %s: %w", node.DisplayName(), llm.ErrEmptyResponse)
	}

	logger.Info("Agent completed", "response_chars", len(text), "tokens", resp.TokenCount)

	return &NodeResult{
		Output: text,
		Message: &models.Message{
			AgentName:      node.DisplayName(),
			AgentType:      string(node.Type),
			Content:        text,
			MessageType:    models.MessageTypeAgentResponse,
			Timestamp:      time.Now(),
			ResponseTimeMS: time.Since(start).Milliseconds(),
			Metadata:       map[string]any{"tokens_used": resp.TokenCount},
		},
	}, nil
}

func (e *assistantExecutor) buildPrompt(ctx context.Context, ec *ExecContext) string {
	node := ec.Node
	systemMessage := node.Data.SystemMessage
	if systemMessage == "" {
		systemMessage = "You are a helpful assistant agent."
	}

	var docContext string
	if node.Data.DocAware && e.searcher != nil && ec.Agg.InputCount > 0 {
		results, err := e.searcher.Search(ctx, &docaware.SearchRequest{
			ProjectID:           ec.State.ProjectID,
			Query:               ec.Agg.PrimaryInput,
			Method:              node.Data.SearchMethod,
			Parameters:          node.Data.SearchParameters,
			ContentFilters:      node.Data.ContentFilters,
			ConversationContext: tailLines(ec.State.ConversationHistory, 5),
			TopK:                docaware.DefaultTopK,
		})
		if err != nil {
			slog.Warn("Document search failed for agent, continuing without context",
				"agent", node.DisplayName(), "error", err)
		} else {
			docContext = docaware.FormatResults(results, docaware.DefaultTopK)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", node.DisplayName())
	fmt.Fprintf(&b, "System Message: %s\n", systemMessage)
	if docContext != "" {
		b.WriteString(docContext)
	}
	fmt.Fprintf(&b, "\n%s\n", ec.Agg.FormatPrompt())
	if history := tailLines(ec.State.ConversationHistory, 10); history != "" {
		fmt.Fprintf(&b, "\nConversation So Far:\n%s\n", history)
	}
	b.WriteString("\nProvide your response based on your role and the inputs above.\n\nYour response:")
	return b.String()
}

// userProxyExecutor handles UserProxyAgent nodes. When human input is
// required it requests a pause; otherwise the node completes as a
// pass-through of its primary input.
type userProxyExecutor struct{}

func (userProxyExecutor) Execute(_ context.Context, ec *ExecContext) (*NodeResult, error) {
	if ec.Node.Data.RequireHumanInput {
		return &NodeResult{Pause: &PauseRequest{Node: ec.Node}}, nil
	}
	// Auto-approving proxy: forward the primary input unchanged.
	return &NodeResult{
		Output: ec.Agg.PrimaryInput,
		Message: &models.Message{
			AgentName:   ec.Node.DisplayName(),
			AgentType:   string(ec.Node.Type),
			Content:     ec.Agg.PrimaryInput,
			MessageType: models.MessageTypeAgentResponse,
			Timestamp:   time.Now(),
		},
	}, nil
}

// gcmExecutor handles GroupChatManager nodes. Orchestration failures become
// the node's output prefixed ERROR: — downstream nodes see plain text, the
// workflow itself continues.
type gcmExecutor struct {
	orchestrator *gcm.Orchestrator
}

func (e *gcmExecutor) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	start := time.Now()
	result, err := e.orchestrator.Execute(ctx, gcm.Input{
		Node:          ec.Node,
		Graph:         ec.Graph,
		Sources:       ec.Graph.InputSourcesTo(ec.Node.ID),
		ExecutedNodes: ec.State.ExecutedNodes,
		ProjectID:     ec.State.ProjectID,
	})
	if err != nil {
		slog.Error("Group chat manager failed", "manager", ec.Node.DisplayName(), "error", err)
		errText := "ERROR: " + err.Error()
		return &NodeResult{
			Output: errText,
			Message: &models.Message{
				AgentName:   ec.Node.DisplayName(),
				AgentType:   string(ec.Node.Type),
				Content:     errText,
				MessageType: models.MessageTypeAgentResponse,
				Timestamp:   time.Now(),
			},
		}, nil
	}

	return &NodeResult{
		Output:                result.FinalResponse,
		DelegateConversations: result.ConversationLog,
		Message: &models.Message{
			AgentName:      ec.Node.DisplayName(),
			AgentType:      string(ec.Node.Type),
			Content:        result.FinalResponse,
			MessageType:    models.MessageTypeAgentResponse,
			Timestamp:      time.Now(),
			ResponseTimeMS: time.Since(start).Milliseconds(),
			Metadata: map[string]any{
				"total_iterations": result.TotalIterations,
				"input_count":      result.InputCount,
			},
		},
	}, nil
}

// tailLines returns the last n lines of a transcript.
func tailLines(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
