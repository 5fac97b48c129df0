package models

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

// Execution status constants.
const (
	ExecutionStatusPending            ExecutionStatus = "pending"
	ExecutionStatusRunning            ExecutionStatus = "running"
	ExecutionStatusAwaitingHumanInput ExecutionStatus = "awaiting_human_input"
	ExecutionStatusCompleted          ExecutionStatus = "completed"
	ExecutionStatusFailed             ExecutionStatus = "failed"
	ExecutionStatusStopped            ExecutionStatus = "stopped"
)

// ExecutionState is the full mutable state of a workflow execution.
// It is the snapshot object passed through the scheduler and persisted as a
// single row via atomic upsert. After a pause/resume boundary the in-memory
// object is always a fresh load — callers must never rely on identity across
// that boundary.
type ExecutionState struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	ProjectID   string          `json:"project_id"`
	Status      ExecutionStatus `json:"status"`

	// InitialInput is the prompt submitted with the execution. It becomes
	// the StartNode's output so downstream agents consume it like any other
	// upstream result.
	InitialInput string `json:"initial_input,omitempty"`

	// ExecutedNodes maps node id to the textual output of each completed node.
	// Append-only until completion.
	ExecutedNodes map[string]string `json:"executed_nodes"`

	// ExecutedMarkers records completed nodes that carry no consumable
	// output: Start/End markers and UserProxy agents without outgoing edges
	// (their human input lives only in the conversation history).
	ExecutedMarkers []string `json:"executed_markers,omitempty"`

	// MessagesData is the rendered conversation history. Append-only;
	// sequence numbers are strictly monotonic.
	MessagesData []Message `json:"messages_data"`

	// ConversationHistory is the concatenated transcript consumed by
	// downstream prompts.
	ConversationHistory string `json:"conversation_history"`

	// Human input pause state.
	HumanInputRequired      bool               `json:"human_input_required"`
	AwaitingHumanInputAgent string             `json:"awaiting_human_input_agent,omitempty"`
	HumanInputAgentID       string             `json:"human_input_agent_id,omitempty"`
	HumanInputContext       *HumanInputContext `json:"human_input_context,omitempty"`
	HumanInputRequestedAt   *time.Time         `json:"human_input_requested_at,omitempty"`
	HumanInputReceivedAt    *time.Time         `json:"human_input_received_at,omitempty"`

	// DelegateConversations stores the structured delegate conversation log
	// per GroupChatManager node id, for later replay.
	DelegateConversations map[string][]string `json:"delegate_conversations,omitempty"`

	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	DurationSeconds     float64    `json:"duration_seconds,omitempty"`
	TotalMessages       int        `json:"total_messages"`
	TotalAgentsInvolved int        `json:"total_agents_involved"`
	ResultSummary       string     `json:"result_summary,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}

// HumanInputContext describes what a paused execution is waiting for.
// For reflection pauses, ReflectionSource/ReflectionSourceID/Iteration carry
// the feedback-loop position.
type HumanInputContext struct {
	AgentID            string        `json:"agent_id"`
	AgentName          string        `json:"agent_name"`
	InputSources       []InputRecord `json:"input_sources,omitempty"`
	InputCount         int           `json:"input_count"`
	PrimaryInput       string        `json:"primary_input,omitempty"`
	ReflectionSource   string        `json:"reflection_source,omitempty"`
	ReflectionSourceID string        `json:"reflection_source_id,omitempty"`
	Iteration          int           `json:"iteration,omitempty"`
	InputMode          string        `json:"input_mode,omitempty"`
}

// InputRecord is one input shown to a human during a pause.
type InputRecord struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// IsTerminal reports whether the status is a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusStopped:
		return true
	default:
		return false
	}
}

// IsNodeExecuted reports whether a node has completed, either with stored
// output or as a marker.
func (e *ExecutionState) IsNodeExecuted(nodeID string) bool {
	if _, ok := e.ExecutedNodes[nodeID]; ok {
		return true
	}
	for _, id := range e.ExecutedMarkers {
		if id == nodeID {
			return true
		}
	}
	return false
}

// MarkExecuted records a node as completed without storing output.
func (e *ExecutionState) MarkExecuted(nodeID string) {
	for _, id := range e.ExecutedMarkers {
		if id == nodeID {
			return
		}
	}
	e.ExecutedMarkers = append(e.ExecutedMarkers, nodeID)
}

// NextSequence returns the sequence number for the next appended message.
func (e *ExecutionState) NextSequence() int {
	if len(e.MessagesData) == 0 {
		return 0
	}
	return e.MessagesData[len(e.MessagesData)-1].Sequence + 1
}

// AppendMessage appends a message with a strictly monotonic sequence number.
func (e *ExecutionState) AppendMessage(m Message) {
	m.Sequence = e.NextSequence()
	e.MessagesData = append(e.MessagesData, m)
	e.TotalMessages = len(e.MessagesData)
}

// AppendConversation appends one "name: text" line to the transcript.
func (e *ExecutionState) AppendConversation(name, text string) {
	if e.ConversationHistory != "" {
		e.ConversationHistory += "\n"
	}
	e.ConversationHistory += name + ": " + text
}

// CountAgentsInvolved counts distinct agent names in messages, excluding the
// Start/End marker nodes.
func (e *ExecutionState) CountAgentsInvolved() int {
	seen := make(map[string]struct{})
	for _, m := range e.MessagesData {
		if m.AgentType == "StartNode" || m.AgentType == "EndNode" {
			continue
		}
		seen[m.AgentName] = struct{}{}
	}
	return len(seen)
}
