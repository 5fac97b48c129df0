package models

import "time"

// Human input actions accepted on resume.
const (
	HumanInputActionSubmit  = "submit"
	HumanInputActionIterate = "iterate"
)

// HumanInputInteraction is the audit record persisted for every human input
// delivered to a paused execution. Stored separately from the execution row.
type HumanInputInteraction struct {
	ExecutionID             string        `json:"execution_id"`
	AgentName               string        `json:"agent_name"`
	AgentID                 string        `json:"agent_id"`
	InputMessages           []InputRecord `json:"input_messages,omitempty"`
	HumanResponse           string        `json:"human_response"`
	Action                  string        `json:"action"`
	ConversationContext     string        `json:"conversation_context,omitempty"`
	RequestedAt             *time.Time    `json:"requested_at,omitempty"`
	RespondedAt             time.Time     `json:"responded_at"`
	InputSourcesCount       int           `json:"input_sources_count"`
	WorkflowPausedAtSequence int          `json:"workflow_paused_at_sequence"`
}
