package gcm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidoc/agentflow/pkg/delegate"
	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

// rule maps a prompt substring to a canned response or error.
type rule struct {
	contains string
	response string
	err      error
}

// ruleClient answers prompts by first matching rule. It records every
// prompt for assertions.
type ruleClient struct {
	mu      sync.Mutex
	rules   []rule
	prompts []string
}

func (c *ruleClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)
	rules := c.rules
	c.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(req.Prompt, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			return &llm.GenerateResponse{Text: r.response}, nil
		}
	}
	return &llm.GenerateResponse{Text: "default response"}, nil
}

func (c *ruleClient) promptsMatching(substr string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.prompts {
		if strings.Contains(p, substr) {
			out = append(out, p)
		}
	}
	return out
}

type singleClientFactory struct {
	client llm.Client
}

func (f *singleClientFactory) ProviderFor(_ context.Context, _, _, _ string) (llm.Client, error) {
	return f.client, nil
}

// gcmGraph builds Start -> GCM with two delegates (one attached in each
// edge direction).
func gcmGraph(managerData graph.NodeConfig) *graph.Graph {
	managerData.Name = "Manager"
	return graph.New(
		[]graph.Node{
			{ID: "start", Type: graph.NodeTypeStart, Data: graph.NodeConfig{Name: "Start"}},
			{ID: "gcm", Type: graph.NodeTypeGroupChatManager, Data: managerData},
			{ID: "d1", Type: graph.NodeTypeDelegateAgent, Data: graph.NodeConfig{
				Name: "D1", Description: "Handles analysis tasks"}},
			{ID: "d2", Type: graph.NodeTypeDelegateAgent, Data: graph.NodeConfig{
				Name: "D2", Description: "Handles writing tasks"}},
		},
		[]graph.Edge{
			{Source: "start", Target: "gcm", Type: graph.EdgeTypeSequential},
			{Source: "gcm", Target: "d1", Type: graph.EdgeTypeDelegate},
			{Source: "d2", Target: "gcm", Type: graph.EdgeTypeDelegate},
		},
	)
}

func newTestOrchestrator(client llm.Client) *Orchestrator {
	factory := &singleClientFactory{client: client}
	executor := delegate.NewExecutor(factory, nil)
	return New(factory, executor)
}

func gcmInput(g *graph.Graph) Input {
	return Input{
		Node:          g.NodeByID("gcm"),
		Graph:         g,
		Sources:       g.InputSourcesTo("gcm"),
		ExecutedNodes: map[string]string{"start": "analyze revenue and write a summary"},
		ProjectID:     "proj-1",
	}
}

func TestRoundRobin_TwoDelegatesOneRound(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "You are D1,", response: "D1 analysis output"},
		{contains: "You are D2,", response: "D2 writing output"},
		{contains: "Group Chat Manager", response: "combined synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{MaxRounds: 1, TerminationStrategy: TerminationAllComplete})
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// Both delegates invoked exactly once.
	assert.Len(t, client.promptsMatching("You are D1,"), 1)
	assert.Len(t, client.promptsMatching("You are D2,"), 1)

	require.Len(t, result.ConversationLog, 2)
	assert.Contains(t, result.ConversationLog[0], "[Round 1] D1: D1 analysis output")
	assert.Contains(t, result.ConversationLog[1], "[Round 1] D2: D2 writing output")

	assert.Contains(t, result.FinalResponse, "combined synthesis")
	assert.Equal(t, 2, result.TotalIterations)
	assert.Equal(t, 1, result.InputCount)
	assert.True(t, result.DelegateStatus["D1"].Completed)
	assert.True(t, result.DelegateStatus["D2"].Completed)
}

func TestRoundRobin_TerminationConditionSuffix(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "You are D1,", response: "finished my analysis TERMINATE"},
		{contains: "You are D2,", response: "still thinking"},
		{contains: "Group Chat Manager", response: "synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{MaxRounds: 3, TerminationStrategy: TerminationAllComplete})
	// Only D1 has a termination condition.
	g.NodeByID("d1").Data.TerminationCondition = "TERMINATE"
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// D1 terminated after round one; D2 kept going to the iteration cap.
	assert.Len(t, client.promptsMatching("You are D1,"), 1)
	assert.Len(t, client.promptsMatching("You are D2,"), 3)
	assert.Equal(t, 1, result.DelegateStatus["D1"].Iterations)
	assert.Equal(t, 3, result.DelegateStatus["D2"].Iterations)
}

func TestRoundRobin_AnyDelegateCompleteStopsEarly(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "You are D1,", response: "done DONE"},
		{contains: "You are D2,", response: "partial work"},
		{contains: "Group Chat Manager", response: "synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{MaxRounds: 5, TerminationStrategy: TerminationAnyComplete})
	g.NodeByID("d1").Data.TerminationCondition = "DONE"
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// One round was enough for the any_delegate_complete strategy.
	assert.Len(t, client.promptsMatching("You are D1,"), 1)
	assert.Len(t, client.promptsMatching("You are D2,"), 1)
	assert.Equal(t, 2, result.TotalIterations)
}

func TestRoundRobin_DelegateFailureIsolated(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "You are D1,", err: &llm.ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"}},
		{contains: "You are D2,", response: "D2 output"},
		{contains: "Group Chat Manager", response: "synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{MaxRounds: 1})
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// D1's failure is recorded in the log, D2's result survives.
	require.Len(t, result.ConversationLog, 2)
	assert.Contains(t, result.ConversationLog[0], "ERROR:")
	assert.Contains(t, result.ConversationLog[1], "D2 output")
}

func TestExecute_NoDelegates(t *testing.T) {
	g := graph.New(
		[]graph.Node{
			{ID: "start", Type: graph.NodeTypeStart},
			{ID: "gcm", Type: graph.NodeTypeGroupChatManager, Data: graph.NodeConfig{Name: "Manager"}},
		},
		[]graph.Edge{{Source: "start", Target: "gcm", Type: graph.EdgeTypeSequential}},
	)
	o := newTestOrchestrator(&ruleClient{})

	_, err := o.Execute(context.Background(), Input{
		Node:          g.NodeByID("gcm"),
		Graph:         g,
		ExecutedNodes: map[string]string{"start": "input"},
		ProjectID:     "proj-1",
	})
	require.ErrorIs(t, err, ErrNoDelegates)
}

func TestIntelligent_TwoSubqueriesWithDependency(t *testing.T) {
	var order []string
	var orderMu sync.Mutex
	record := func(name string) {
		orderMu.Lock()
		order = append(order, name)
		orderMu.Unlock()
	}

	client := &trackingClient{
		rules: []rule{
			{contains: "task analysis system", response: `[
				{"query": "analyze revenue", "priority": "high", "dependencies": [], "suggested_delegates": ["D1"]},
				{"query": "write the summary", "priority": "medium", "dependencies": [0], "suggested_delegates": ["D2"]}
			]`},
			{contains: "analyze revenue\n\nAvailable Delegates", response: `{"assigned_delegates": ["D1"], "confidence": 0.9, "reasoning": "analysis"}`},
			{contains: "write the summary\n\nAvailable Delegates", response: `{"assigned_delegates": ["D2"], "confidence": 0.9, "reasoning": "writing"}`},
			{contains: "intelligent task delegation", response: "final synthesis"},
		},
		onDelegation: record,
	}

	g := gcmGraph(graph.NodeConfig{
		DelegationMode:                ModeIntelligent,
		DelegationConfidenceThreshold: 0.7,
		DelegationTimeoutSeconds:      5,
	})
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	require.NotNil(t, result.Metrics)
	assert.Equal(t, 2, result.Metrics.TotalDelegations)
	assert.Equal(t, 2, result.Metrics.SuccessfulDelegations)
	assert.Equal(t, 0, result.Metrics.FailedDelegations)
	assert.Equal(t, float64(100), result.Metrics.SuccessRate())

	// SQ0 (level 0) ran strictly before SQ1 (level 1).
	require.Len(t, order, 2)
	assert.Equal(t, "analyze revenue", order[0])
	assert.Equal(t, "write the summary", order[1])

	assert.Contains(t, result.FinalResponse, "final synthesis")
	assert.Equal(t, 1.0, result.DelegateStatus["D1"].SuccessRate)
	assert.Equal(t, 0.5, result.DelegateStatus["D1"].UtilizationRate)
}

func TestIntelligent_LowConfidenceBroadcasts(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "task analysis system", response: `[
			{"query": "vague task", "priority": "medium", "dependencies": [], "suggested_delegates": []}
		]`},
		{contains: "task routing system", response: `{"assigned_delegates": ["D1"], "confidence": 0.2, "reasoning": "weak"}`},
		{contains: "DELEGATION REQUEST", response: "delegate answer"},
		{contains: "intelligent task delegation", response: "synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{
		DelegationMode:                ModeIntelligent,
		DelegationConfidenceThreshold: 0.7,
	})
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// Broadcast to both delegates: two delegations for one subquery.
	assert.Equal(t, 2, result.Metrics.TotalDelegations)
	for _, assignment := range result.SubqueryAssignments {
		assert.ElementsMatch(t, []string{"D1", "D2"}, assignment.AssignedDelegates)
	}
}

func TestIntelligent_SplitFallbackSingleSubquery(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "task analysis system", response: "not json at all"},
		{contains: "task routing system", response: `{"assigned_delegates": ["D1"], "confidence": 0.9, "reasoning": "ok"}`},
		{contains: "DELEGATION REQUEST", response: "delegate answer"},
		{contains: "intelligent task delegation", response: "synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{DelegationMode: ModeIntelligent})
	o := newTestOrchestrator(client)

	result, err := o.Execute(context.Background(), gcmInput(g))
	require.NoError(t, err)

	// Exactly one synthetic subquery carrying the full input.
	require.Len(t, result.SubqueryAssignments, 1)
	for _, assignment := range result.SubqueryAssignments {
		assert.Contains(t, assignment.Subquery.Query, "analyze revenue and write a summary")
	}
}

func TestIntelligent_FallsBackToRoundRobinWithoutProject(t *testing.T) {
	client := &ruleClient{rules: []rule{
		{contains: "You are D1,", response: "rr output 1"},
		{contains: "You are D2,", response: "rr output 2"},
		{contains: "Group Chat Manager", response: "rr synthesis"},
	}}
	g := gcmGraph(graph.NodeConfig{DelegationMode: ModeIntelligent, MaxRounds: 1})
	o := newTestOrchestrator(client)

	in := gcmInput(g)
	in.ProjectID = ""

	result, err := o.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, result.Metrics)
	assert.Contains(t, result.FinalResponse, "rr synthesis")
}

func TestResolveSettings(t *testing.T) {
	node := &graph.Node{Data: graph.NodeConfig{}}
	cfg := resolveSettings(node)
	assert.Equal(t, ModeRoundRobin, cfg.mode)
	assert.Equal(t, DefaultMaxRounds, cfg.maxIterations)
	assert.Equal(t, TerminationAllComplete, cfg.terminationStrategy)
	assert.Equal(t, DefaultConfidenceThreshold, cfg.confidenceThreshold)

	node = &graph.Node{Data: graph.NodeConfig{
		MaxIterations:       2,
		MaxRounds:           7,
		TerminationStrategy: TerminationMaxIterationsAlias,
	}}
	cfg = resolveSettings(node)
	// max_iterations wins over max_rounds; the legacy alias maps to
	// all_delegates_complete.
	assert.Equal(t, 2, cfg.maxIterations)
	assert.Equal(t, TerminationAllComplete, cfg.terminationStrategy)
}

func TestGroupByDependencyLevel_Cycle(t *testing.T) {
	subqueries := []*models.Subquery{
		{SubqueryID: "a", Index: 0, Dependencies: []int{1}},
		{SubqueryID: "b", Index: 1, Dependencies: []int{0}},
	}
	levels := groupByDependencyLevel(subqueries)
	// Cycle: both land in one final level in arbitrary order.
	require.Len(t, levels, 1)
	assert.Len(t, levels[0], 2)
}

func TestGroupByDependencyLevel_Levels(t *testing.T) {
	subqueries := []*models.Subquery{
		{SubqueryID: "a", Index: 0},
		{SubqueryID: "b", Index: 1, Dependencies: []int{0}},
		{SubqueryID: "c", Index: 2},
	}
	levels := groupByDependencyLevel(subqueries)
	require.Len(t, levels, 2)
	assert.Len(t, levels[0], 2) // a and c
	assert.Len(t, levels[1], 1) // b
}

// trackingClient extends ruleClient by reporting which subquery a
// delegation prompt carried, in completion order.
type trackingClient struct {
	mu           sync.Mutex
	rules        []rule
	onDelegation func(subquery string)
}

func (c *trackingClient) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if strings.Contains(req.Prompt, "DELEGATION REQUEST") && c.onDelegation != nil {
		for _, sq := range []string{"analyze revenue", "write the summary"} {
			if strings.Contains(req.Prompt, "Task:\n"+sq) {
				// Small delay so cross-level ordering is observable.
				time.Sleep(10 * time.Millisecond)
				c.onDelegation(sq)
			}
		}
		return &llm.GenerateResponse{Text: "delegate answer"}, nil
	}

	c.mu.Lock()
	rules := c.rules
	c.mu.Unlock()
	for _, r := range rules {
		if strings.Contains(req.Prompt, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			return &llm.GenerateResponse{Text: r.response}, nil
		}
	}
	return nil, fmt.Errorf("no rule matched prompt: %.60s", req.Prompt)
}
