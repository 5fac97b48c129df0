package reflection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellidoc/agentflow/pkg/graph"
	"github.com/intellidoc/agentflow/pkg/llm"
	"github.com/intellidoc/agentflow/pkg/models"
)

type memoryStore struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string][]byte)}
}

func (s *memoryStore) SaveExecution(_ context.Context, state *models.ExecutionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[state.ExecutionID] = data
	return nil
}

func (s *memoryStore) GetExecution(_ context.Context, executionID string) (*models.ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state models.ExecutionState
	if err := json.Unmarshal(s.rows[executionID], &state); err != nil {
		return nil, err
	}
	return &state, nil
}

type fixedClient struct{ text string }

func (c *fixedClient) Generate(_ context.Context, _ *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return &llm.GenerateResponse{Text: c.text}, nil
}

type fixedFactory struct{ client llm.Client }

func (f *fixedFactory) ProviderFor(_ context.Context, _, _, _ string) (llm.Client, error) {
	return f.client, nil
}

func reflectionGraph(maxIterations int) *graph.Graph {
	return graph.New(
		[]graph.Node{
			{ID: "start", Type: graph.NodeTypeStart, Data: graph.NodeConfig{Name: "Start"}},
			{ID: "a", Type: graph.NodeTypeAssistantAgent, Data: graph.NodeConfig{
				Name: "A", MaxIterations: maxIterations}},
			{ID: "u", Type: graph.NodeTypeUserProxyAgent, Data: graph.NodeConfig{
				Name: "Reviewer", RequireHumanInput: true}},
		},
		[]graph.Edge{
			{Source: "start", Target: "a", Type: graph.EdgeTypeSequential},
			{Source: "a", Target: "u", Type: graph.EdgeTypeReflection},
		},
	)
}

func pausedState(iteration int) *models.ExecutionState {
	return &models.ExecutionState{
		ExecutionID: "exec-1",
		ProjectID:   "proj-1",
		Status:      models.ExecutionStatusRunning,
		ExecutedNodes: map[string]string{
			"start": "write a poem",
			"a":     "candidate text",
		},
		HumanInputRequired:      true,
		AwaitingHumanInputAgent: "Reviewer",
		HumanInputAgentID:       "u",
		HumanInputContext: &models.HumanInputContext{
			AgentID:            "u",
			AgentName:          "Reviewer",
			ReflectionSource:   "A",
			ReflectionSourceID: "a",
			Iteration:          iteration,
		},
	}
}

func TestResume_NoReflectionContext(t *testing.T) {
	h := NewHandler(newMemoryStore(), &fixedFactory{client: &fixedClient{}})
	state := pausedState(1)
	state.HumanInputContext = nil

	_, err := h.Resume(context.Background(), reflectionGraph(3), state, "input", models.HumanInputActionSubmit)
	require.ErrorIs(t, err, ErrNoReflectionContext)
}

func TestResume_SourceNotFound(t *testing.T) {
	h := NewHandler(newMemoryStore(), &fixedFactory{client: &fixedClient{}})
	state := pausedState(1)
	state.HumanInputContext.ReflectionSourceID = "ghost"

	_, err := h.Resume(context.Background(), reflectionGraph(3), state, "input", models.HumanInputActionSubmit)
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestResume_SubmitAcceptsCurrentCandidate(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, &fixedFactory{client: &fixedClient{}})
	state := pausedState(2)

	outcome, err := h.Resume(context.Background(), reflectionGraph(3), state, "approved", models.HumanInputActionSubmit)
	require.NoError(t, err)
	assert.False(t, outcome.Iterated)
	assert.Equal(t, "candidate text", outcome.FinalResponse)

	assert.Equal(t, "candidate text", state.ExecutedNodes["a"])
	assert.True(t, state.IsNodeExecuted("u"))
	assert.False(t, state.HumanInputRequired)
	assert.Nil(t, state.HumanInputContext)

	last := state.MessagesData[len(state.MessagesData)-1]
	assert.Equal(t, models.MessageTypeReflectionFinal, last.MessageType)
	assert.Equal(t, "A", last.AgentName)
}

func TestResume_SubmitWithoutCandidateUsesHumanInput(t *testing.T) {
	h := NewHandler(newMemoryStore(), &fixedFactory{client: &fixedClient{}})
	state := pausedState(1)
	delete(state.ExecutedNodes, "a")

	outcome, err := h.Resume(context.Background(), reflectionGraph(3), state, "the human wrote this", models.HumanInputActionSubmit)
	require.NoError(t, err)
	assert.Equal(t, "the human wrote this", outcome.FinalResponse)
	assert.Equal(t, "the human wrote this", state.ExecutedNodes["a"])
}

func TestResume_IterateRerunsSource(t *testing.T) {
	store := newMemoryStore()
	h := NewHandler(store, &fixedFactory{client: &fixedClient{text: "revised candidate"}})
	state := pausedState(1)

	outcome, err := h.Resume(context.Background(), reflectionGraph(3), state, "tighten it up", models.HumanInputActionIterate)
	require.NoError(t, err)
	assert.True(t, outcome.Iterated)

	assert.Equal(t, "revised candidate", state.ExecutedNodes["a"])
	assert.True(t, state.HumanInputRequired)
	assert.Equal(t, 2, state.HumanInputContext.Iteration)
	assert.Equal(t, "revised candidate", state.HumanInputContext.PrimaryInput)
	assert.Equal(t, "A", state.HumanInputContext.ReflectionSource)
}

func TestResume_IterateAtCapForcesAccept(t *testing.T) {
	h := NewHandler(newMemoryStore(), &fixedFactory{client: &fixedClient{text: "unused"}})
	state := pausedState(3)

	outcome, err := h.Resume(context.Background(), reflectionGraph(3), state, "one more time", models.HumanInputActionIterate)
	require.NoError(t, err)
	assert.False(t, outcome.Iterated)
	assert.Equal(t, "candidate text", outcome.FinalResponse)
	assert.Equal(t, "candidate text", state.ExecutedNodes["a"])
}
