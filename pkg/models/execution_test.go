package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppendMessage_MonotonicSequence(t *testing.T) {
	state := &ExecutionState{}
	state.AppendMessage(Message{AgentName: "A", Content: "one", Timestamp: time.Now()})
	state.AppendMessage(Message{AgentName: "B", Content: "two", Timestamp: time.Now()})
	state.AppendMessage(Message{AgentName: "C", Content: "three", Timestamp: time.Now()})

	assert.Equal(t, 0, state.MessagesData[0].Sequence)
	assert.Equal(t, 1, state.MessagesData[1].Sequence)
	assert.Equal(t, 2, state.MessagesData[2].Sequence)
	assert.Equal(t, 3, state.TotalMessages)
}

func TestIsNodeExecuted(t *testing.T) {
	state := &ExecutionState{ExecutedNodes: map[string]string{"a": "output"}}
	assert.True(t, state.IsNodeExecuted("a"))
	assert.False(t, state.IsNodeExecuted("b"))

	state.MarkExecuted("b")
	assert.True(t, state.IsNodeExecuted("b"))

	// Marking twice keeps a single entry.
	state.MarkExecuted("b")
	assert.Len(t, state.ExecutedMarkers, 1)
}

func TestCountAgentsInvolved_ExcludesMarkers(t *testing.T) {
	state := &ExecutionState{}
	state.AppendMessage(Message{AgentName: "Start", AgentType: "StartNode"})
	state.AppendMessage(Message{AgentName: "A", AgentType: "AssistantAgent"})
	state.AppendMessage(Message{AgentName: "A", AgentType: "AssistantAgent"})
	state.AppendMessage(Message{AgentName: "B", AgentType: "UserProxyAgent"})
	state.AppendMessage(Message{AgentName: "End", AgentType: "EndNode"})

	assert.Equal(t, 2, state.CountAgentsInvolved())
}

func TestAppendConversation(t *testing.T) {
	state := &ExecutionState{}
	state.AppendConversation("A", "hello")
	state.AppendConversation("B", "world")
	assert.Equal(t, "A: hello\nB: world", state.ConversationHistory)
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityRank(PriorityHigh), PriorityRank(PriorityMedium))
	assert.Greater(t, PriorityRank(PriorityMedium), PriorityRank(PriorityLow))
	assert.Equal(t, PriorityRank(PriorityMedium), PriorityRank("unknown"))
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.True(t, ExecutionStatusStopped.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
	assert.False(t, ExecutionStatusPending.IsTerminal())
	assert.False(t, ExecutionStatusAwaitingHumanInput.IsTerminal())
}

func TestDelegationMetrics_SuccessRate(t *testing.T) {
	m := &DelegationMetrics{TotalDelegations: 4, SuccessfulDelegations: 3}
	assert.Equal(t, 75.0, m.SuccessRate())

	empty := &DelegationMetrics{}
	assert.Equal(t, 0.0, empty.SuccessRate())
}
