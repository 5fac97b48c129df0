// Package scheduler drives workflow graphs to completion: it computes
// dependency-based ready sets, executes each ready level concurrently, and
// suspends execution when a node requires human input. Node outputs are
// tracked in executed_nodes; resumption recomputes readiness from refreshed
// state rather than any stored position.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/intellidoc/agentflow/pkg/docaware"
	"github.com/intellidoc/agentflow/pkg/gcm"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

// Sentinel errors.
var (
	ErrDeadlock    = errors.New("no ready nodes but workflow incomplete")
	ErrUnknownType = errors.New("no executor registered for node type")
)

// Result is the outcome of one scheduler drive: either the workflow ran to
// a terminal status or it suspended awaiting human input.
type Result struct {
	Status      models.ExecutionStatus
	FinalOutput string
	Paused      bool
	PausedAgent string
	PausedNode  string
}

// Scheduler executes workflow graphs.
type Scheduler struct {
	store     Store
	executors map[graph.NodeType]NodeExecutor
}

// New creates a scheduler wired to the given collaborators. searcher may be
// nil when document retrieval is disabled.
func New(store Store, providers llm.ProviderFactory, orchestrator *gcm.Orchestrator, searcher docaware.Searcher) *Scheduler {
	assistant := &assistantExecutor{providers: providers, searcher: searcher}
	return &Scheduler{
		store: store,
		executors: map[graph.NodeType]NodeExecutor{
			graph.NodeTypeStart:            markerExecutor{},
			graph.NodeTypeEnd:              markerExecutor{},
			graph.NodeTypeAssistantAgent:   assistant,
			// A DelegateAgent scheduled outside a GCM behaves as an assistant.
			graph.NodeTypeDelegateAgent:    assistant,
			graph.NodeTypeGroupChatManager: &gcmExecutor{orchestrator: orchestrator},
			graph.NodeTypeUserProxyAgent:   userProxyExecutor{},
		},
	}
}

// Run drives the graph until completion, failure, or a human-input pause.
// state is mutated in place and persisted after every level.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, state *models.ExecutionState) (*Result, error) {
	logger := slog.With("execution_id", state.ExecutionID, "workflow_id", state.WorkflowID)

	if state.Status == models.ExecutionStatusPending {
		state.Status = models.ExecutionStatusRunning
	}
	if state.StartTime == nil {
		now := time.Now()
		state.StartTime = &now
	}
	if state.ExecutedNodes == nil {
		state.ExecutedNodes = make(map[string]string)
	}
	if err := s.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist running state: %w", err)
	}

	deps := g.Dependencies()
	nodes := g.SchedulableNodes()

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, state, fmt.Errorf("execution cancelled: %w", err))
		}

		ready := readyNodes(nodes, deps, state)
		if len(ready) == 0 {
			if allExecuted(nodes, state) {
				return s.finalize(ctx, g, state)
			}
			return s.fail(ctx, state, fmt.Errorf("%w: %d of %d nodes executed",
				ErrDeadlock, executedCount(nodes, state), len(nodes)))
		}

		logger.Info("Executing ready level", "nodes", len(ready))

		outcomes, err := s.executeLevel(ctx, g, state, ready)
		if err != nil {
			return s.fail(ctx, state, err)
		}

		var pause *PauseRequest
		for _, node := range ready {
			outcome := outcomes[node.ID]
			if outcome == nil {
				continue
			}
			if outcome.Pause != nil {
				if pause == nil {
					pause = outcome.Pause
				}
				continue
			}
			s.applyOutcome(state, node, outcome)
		}

		if err := s.store.SaveExecution(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to persist level results: %w", err)
		}

		if pause != nil {
			return s.pause(ctx, g, state, pause.Node)
		}
	}
}

// executeLevel runs every ready node concurrently with per-task error
// capture: a single node failure is collected, never cancels siblings.
func (s *Scheduler) executeLevel(ctx context.Context, g *graph.Graph, state *models.ExecutionState, ready []*graph.Node) (map[string]*NodeResult, error) {
	type indexed struct {
		nodeID string
		result *NodeResult
		err    error
	}

	results := make(chan indexed, len(ready))
	var wg sync.WaitGroup
	for _, node := range ready {
		executor, ok := s.executors[node.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, node.Type)
		}
		wg.Add(1)
		go func(node *graph.Node, executor NodeExecutor) {
			defer wg.Done()
			agg := graph.AggregateInputs(g.InputSourcesTo(node.ID), state.ExecutedNodes)
			res, err := executor.Execute(ctx, &ExecContext{Graph: g, Node: node, State: state, Agg: agg})
			results <- indexed{nodeID: node.ID, result: res, err: err}
		}(node, executor)
	}
	wg.Wait()
	close(results)

	outcomes := make(map[string]*NodeResult, len(ready))
	var firstErr error
	for r := range results {
		if r.err != nil {
			slog.Error("Node execution failed", "node_id", r.nodeID, "error", r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		outcomes[r.nodeID] = r.result
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return outcomes, nil
}

// applyOutcome writes one node's result into the execution state. Outcomes
// are applied in deterministic node order after the level joins.
func (s *Scheduler) applyOutcome(state *models.ExecutionState, node *graph.Node, outcome *NodeResult) {
	if outcome.MarkerOnly {
		state.MarkExecuted(node.ID)
	} else {
		state.ExecutedNodes[node.ID] = outcome.Output
	}
	if outcome.Message != nil {
		state.AppendMessage(*outcome.Message)
		if outcome.Message.MessageType != models.MessageTypeSystem {
			state.AppendConversation(outcome.Message.AgentName, outcome.Message.Content)
		}
	}
	if len(outcome.DelegateConversations) > 0 {
		if state.DelegateConversations == nil {
			state.DelegateConversations = make(map[string][]string)
		}
		state.DelegateConversations[node.ID] = outcome.DelegateConversations
	}
}

// pause suspends the execution at a human-input node: state is refreshed
// from storage, merged (local wins on conflicts — it reflects the
// just-finished level), and saved with the pause context before returning.
func (s *Scheduler) pause(ctx context.Context, g *graph.Graph, state *models.ExecutionState, node *graph.Node) (*Result, error) {
	logger := slog.With("execution_id", state.ExecutionID, "agent", node.DisplayName())
	logger.Info("Pausing for human input")

	if stored, err := s.store.GetExecution(ctx, state.ExecutionID); err == nil {
		mergeExecutedNodes(state, stored)
	} else {
		logger.Warn("Failed to refresh execution before pause", "error", err)
	}

	sources := g.InputSourcesTo(node.ID)
	agg := graph.AggregateInputs(sources, state.ExecutedNodes)

	hctx := &models.HumanInputContext{
		AgentID:      node.ID,
		AgentName:    node.DisplayName(),
		InputSources: namedInputs(agg),
		InputCount:   agg.InputCount,
		PrimaryInput: agg.PrimaryInput,
	}

	// A pause reached through a reflection edge starts the feedback loop at
	// iteration one, unless a reflection handler already advanced it.
	if existing := state.HumanInputContext; existing != nil && existing.ReflectionSource != "" && existing.AgentID == node.ID {
		hctx.ReflectionSource = existing.ReflectionSource
		hctx.ReflectionSourceID = existing.ReflectionSourceID
		hctx.Iteration = existing.Iteration
	} else if source := reflectionSourceOf(g, node.ID); source != nil {
		hctx.ReflectionSource = source.DisplayName()
		hctx.ReflectionSourceID = source.ID
		hctx.Iteration = 1
	}

	now := time.Now()
	state.Status = models.ExecutionStatusRunning
	state.HumanInputRequired = true
	state.AwaitingHumanInputAgent = node.DisplayName()
	state.HumanInputAgentID = node.ID
	state.HumanInputContext = hctx
	state.HumanInputRequestedAt = &now

	if err := s.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist pause state: %w", err)
	}

	return &Result{
		Status:      models.ExecutionStatusAwaitingHumanInput,
		Paused:      true,
		PausedAgent: node.DisplayName(),
		PausedNode:  node.ID,
	}, nil
}

// finalize marks the execution completed and computes summary statistics.
func (s *Scheduler) finalize(ctx context.Context, g *graph.Graph, state *models.ExecutionState) (*Result, error) {
	now := time.Now()
	state.Status = models.ExecutionStatusCompleted
	state.EndTime = &now
	if state.StartTime != nil {
		state.DurationSeconds = now.Sub(*state.StartTime).Seconds()
	}
	state.TotalMessages = len(state.MessagesData)
	state.TotalAgentsInvolved = state.CountAgentsInvolved()

	finalOutput := finalNodeOutput(g, state)
	if state.ResultSummary == "" {
		state.ResultSummary = "Workflow completed"
	}

	if err := s.store.SaveExecution(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist completed state: %w", err)
	}

	slog.Info("Workflow completed",
		"execution_id", state.ExecutionID,
		"duration_seconds", state.DurationSeconds,
		"agents_involved", state.TotalAgentsInvolved)

	return &Result{Status: models.ExecutionStatusCompleted, FinalOutput: finalOutput}, nil
}

// fail marks the execution failed with the given cause.
func (s *Scheduler) fail(ctx context.Context, state *models.ExecutionState, cause error) (*Result, error) {
	now := time.Now()
	state.Status = models.ExecutionStatusFailed
	state.EndTime = &now
	if state.StartTime != nil {
		state.DurationSeconds = now.Sub(*state.StartTime).Seconds()
	}
	state.ErrorMessage = cause.Error()
	state.ResultSummary = "Workflow failed: " + cause.Error()

	if err := s.store.SaveExecution(ctx, state); err != nil {
		slog.Error("Failed to persist failed state", "execution_id", state.ExecutionID, "error", err)
	}

	slog.Error("Workflow failed", "execution_id", state.ExecutionID, "error", cause)
	return &Result{Status: models.ExecutionStatusFailed}, cause
}

// readyNodes selects unexecuted nodes whose dependencies are all satisfied,
// in stable node order.
func readyNodes(nodes []*graph.Node, deps map[string]map[string]struct{}, state *models.ExecutionState) []*graph.Node {
	var ready []*graph.Node
	for _, node := range nodes {
		if state.IsNodeExecuted(node.ID) {
			continue
		}
		satisfied := true
		for dep := range deps[node.ID] {
			if !state.IsNodeExecuted(dep) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, node)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

func allExecuted(nodes []*graph.Node, state *models.ExecutionState) bool {
	return executedCount(nodes, state) == len(nodes)
}

func executedCount(nodes []*graph.Node, state *models.ExecutionState) int {
	count := 0
	for _, node := range nodes {
		if state.IsNodeExecuted(node.ID) {
			count++
		}
	}
	return count
}

// finalNodeOutput picks the output to surface: the last executed node that
// feeds an EndNode, falling back to the last message.
func finalNodeOutput(g *graph.Graph, state *models.ExecutionState) string {
	for _, node := range g.Nodes {
		if node.Type != graph.NodeTypeEnd {
			continue
		}
		for _, e := range g.IncomingEdges(node.ID) {
			if output, ok := state.ExecutedNodes[e.Source]; ok {
				return output
			}
		}
	}
	for i := len(state.MessagesData) - 1; i >= 0; i-- {
		m := state.MessagesData[i]
		if m.MessageType != models.MessageTypeSystem {
			return m.Content
		}
	}
	return ""
}

// mergeExecutedNodes merges stored state into local: storage wins only where
// local lacks a key, because local reflects the just-finished level.
func mergeExecutedNodes(local, stored *models.ExecutionState) {
	for id, output := range stored.ExecutedNodes {
		if _, ok := local.ExecutedNodes[id]; !ok {
			local.ExecutedNodes[id] = output
		}
	}
	for _, id := range stored.ExecutedMarkers {
		local.MarkExecuted(id)
	}
}

// reflectionSourceOf returns the source agent of a reflection edge into the
// given UserProxy node, or nil.
func reflectionSourceOf(g *graph.Graph, nodeID string) *graph.Node {
	for _, e := range g.IncomingEdges(nodeID) {
		if e.Type == graph.EdgeTypeReflection {
			return g.NodeByID(e.Source)
		}
	}
	return nil
}

func namedInputs(agg *graph.AggregatedContext) []models.InputRecord {
	records := make([]models.InputRecord, 0, len(agg.AllInputs))
	for _, in := range agg.AllInputs {
		records = append(records, models.InputRecord{Name: in.Name, Content: in.Content})
	}
	return records
}
