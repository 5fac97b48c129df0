package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *Graph {
	return New(
		[]Node{
			{ID: "start", Type: NodeTypeStart, Data: NodeConfig{Name: "Start"}},
			{ID: "a", Type: NodeTypeAssistantAgent, Data: NodeConfig{Name: "Analyst"}},
			{ID: "end", Type: NodeTypeEnd, Data: NodeConfig{Name: "End"}},
		},
		[]Edge{
			{Source: "start", Target: "a", Type: EdgeTypeSequential},
			{Source: "a", Target: "end", Type: EdgeTypeSequential},
		},
	)
}

func TestParse_RoundTrip(t *testing.T) {
	data := []byte(`{
		"nodes": [
			{"id": "start", "type": "StartNode", "data": {"name": "Start"}},
			{"id": "a", "type": "AssistantAgent", "data": {"name": "Analyst", "llm_provider": "openai", "temperature": 0.5}},
			{"id": "end", "type": "EndNode", "data": {"name": "End"}}
		],
		"edges": [
			{"source": "start", "target": "a", "type": "sequential"},
			{"source": "a", "target": "end", "type": "sequential"}
		]
	}`)

	g, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	analyst := g.NodeByID("a")
	require.NotNil(t, analyst)
	assert.Equal(t, "Analyst", analyst.Data.Name)
	assert.Equal(t, 0.5, analyst.Data.Temperature)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": [`))
	require.Error(t, err)
}

func TestValidate_NoStartNode(t *testing.T) {
	g := New(
		[]Node{{ID: "a", Type: NodeTypeAssistantAgent, Data: NodeConfig{Name: "A"}}},
		nil,
	)
	require.ErrorIs(t, g.Validate(), ErrNoStartNode)
}

func TestValidate_UnknownNodeType(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "x", Type: NodeType("RobotAgent")},
		},
		nil,
	)
	require.ErrorIs(t, g.Validate(), ErrUnknownNodeType)
}

func TestValidate_DanglingEdge(t *testing.T) {
	g := New(
		[]Node{{ID: "start", Type: NodeTypeStart}},
		[]Edge{{Source: "start", Target: "ghost", Type: EdgeTypeSequential}},
	)
	require.ErrorIs(t, g.Validate(), ErrDanglingEdge)
}

func TestValidate_DelegateEdgeEndpoints(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeAssistantAgent},
			{ID: "d", Type: NodeTypeDelegateAgent},
		},
		[]Edge{{Source: "a", Target: "d", Type: EdgeTypeDelegate}},
	)
	require.ErrorIs(t, g.Validate(), ErrInvalidEdge)
}

func TestValidate_DelegateEdgeEitherDirection(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "gcm", Type: NodeTypeGroupChatManager},
			{ID: "d1", Type: NodeTypeDelegateAgent},
			{ID: "d2", Type: NodeTypeDelegateAgent},
		},
		[]Edge{
			{Source: "gcm", Target: "d1", Type: EdgeTypeDelegate},
			{Source: "d2", Target: "gcm", Type: EdgeTypeDelegate},
		},
	)
	require.NoError(t, g.Validate())

	delegates := g.DelegatesOf("gcm")
	require.Len(t, delegates, 2)
}

func TestValidate_ReflectionTargetMustBeUserProxy(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeAssistantAgent},
			{ID: "b", Type: NodeTypeAssistantAgent},
		},
		[]Edge{{Source: "a", Target: "b", Type: EdgeTypeReflection}},
	)
	require.ErrorIs(t, g.Validate(), ErrInvalidEdge)
}

func TestValidate_SequentialCycleRejected(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeAssistantAgent},
			{ID: "b", Type: NodeTypeAssistantAgent},
		},
		[]Edge{
			{Source: "a", Target: "b", Type: EdgeTypeSequential},
			{Source: "b", Target: "a", Type: EdgeTypeSequential},
		},
	)
	require.ErrorIs(t, g.Validate(), ErrCycle)
}

func TestValidate_ReflectionEdgePermitted(t *testing.T) {
	// The reflection feedback cycle is virtual (iteration counters, never
	// traversed), so a reflection edge into a human-input proxy validates
	// even though it closes a conceptual loop.
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeAssistantAgent},
			{ID: "u", Type: NodeTypeUserProxyAgent, Data: NodeConfig{RequireHumanInput: true}},
			{ID: "end", Type: NodeTypeEnd},
		},
		[]Edge{
			{Source: "start", Target: "a", Type: EdgeTypeSequential},
			{Source: "a", Target: "u", Type: EdgeTypeReflection},
			{Source: "u", Target: "end", Type: EdgeTypeSequential},
		},
	)
	require.NoError(t, g.Validate())
}

func TestDependencies(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "a", Type: NodeTypeAssistantAgent},
			{ID: "gcm", Type: NodeTypeGroupChatManager},
			{ID: "d", Type: NodeTypeDelegateAgent},
			{ID: "u", Type: NodeTypeUserProxyAgent, Data: NodeConfig{RequireHumanInput: true}},
		},
		[]Edge{
			{Source: "start", Target: "a", Type: EdgeTypeSequential},
			{Source: "a", Target: "gcm", Type: EdgeTypeSequential},
			{Source: "gcm", Target: "d", Type: EdgeTypeDelegate},
			{Source: "a", Target: "u", Type: EdgeTypeReflection},
		},
	)

	deps := g.Dependencies()
	assert.Contains(t, deps["a"], "start")
	assert.Contains(t, deps["gcm"], "a")
	// Delegate edges never create scheduling dependencies.
	assert.NotContains(t, deps, "d")
	// Reflection into a human-input proxy does.
	assert.Contains(t, deps["u"], "a")
}

func TestSchedulableNodes_ExcludesAttachedDelegates(t *testing.T) {
	g := New(
		[]Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "gcm", Type: NodeTypeGroupChatManager},
			{ID: "d1", Type: NodeTypeDelegateAgent},
			{ID: "lone", Type: NodeTypeDelegateAgent},
		},
		[]Edge{
			{Source: "start", Target: "gcm", Type: EdgeTypeSequential},
			{Source: "gcm", Target: "d1", Type: EdgeTypeDelegate},
		},
	)

	nodes := g.SchedulableNodes()
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, "gcm")
	assert.NotContains(t, ids, "d1")
	// A delegate with no GCM attachment stays schedulable.
	assert.Contains(t, ids, "lone")
}

func TestAggregateInputs(t *testing.T) {
	g := New(
		[]Node{
			{ID: "a", Type: NodeTypeAssistantAgent, Data: NodeConfig{Name: "Analyst"}},
			{ID: "b", Type: NodeTypeAssistantAgent, Data: NodeConfig{Name: "Writer"}},
			{ID: "c", Type: NodeTypeAssistantAgent, Data: NodeConfig{Name: "Reviewer"}},
		},
		[]Edge{
			{Source: "a", Target: "c", Type: EdgeTypeSequential},
			{Source: "b", Target: "c", Type: EdgeTypeSequential},
		},
	)

	executed := map[string]string{"a": "analysis text", "b": "draft text"}
	agg := AggregateInputs(g.InputSourcesTo("c"), executed)

	assert.Equal(t, 2, agg.InputCount)
	assert.Equal(t, "analysis text", agg.PrimaryInput)
	assert.Equal(t, "Analyst", agg.PrimarySource)
	require.Len(t, agg.SecondaryInputs, 1)
	assert.Equal(t, "Writer", agg.SecondaryInputs[0].Name)
	assert.Contains(t, agg.CombinedText, "draft text")
	assert.Contains(t, agg.InputSummary, "Analyst")
}

func TestAggregateInputs_MissingSourceSkipped(t *testing.T) {
	sources := []InputSource{
		{SourceID: "a", Name: "Analyst"},
		{SourceID: "missing", Name: "Ghost"},
	}
	agg := AggregateInputs(sources, map[string]string{"a": "output"})

	assert.Equal(t, 1, agg.InputCount)
	assert.Equal(t, "output", agg.PrimaryInput)
}

func TestFormatPrompt(t *testing.T) {
	agg := AggregateInputs(
		[]InputSource{{SourceID: "a", Name: "Analyst"}, {SourceID: "b", Name: "Writer"}},
		map[string]string{"a": "first", "b": "second"},
	)
	prompt := agg.FormatPrompt()
	assert.Contains(t, prompt, "2 input source(s)")
	assert.Contains(t, prompt, "Primary Input (from Analyst)")
	assert.Contains(t, prompt, "Additional Input 1 (from Writer)")

	empty := AggregateInputs(nil, nil)
	assert.Equal(t, "No input sources available.", empty.FormatPrompt())
}

func TestValidate_Linear(t *testing.T) {
	require.NoError(t, linearGraph().Validate())
}
