package models

import "time"

// Message types recorded in an execution's conversation history.
const (
	MessageTypeAgentResponse   = "agent_response"
	MessageTypeHumanInput      = "human_input"
	MessageTypeReflectionFinal = "reflection_final"
	MessageTypeSystem          = "system"
)

// Message is one entry in an execution's rendered conversation history.
type Message struct {
	Sequence       int            `json:"sequence"`
	AgentName      string         `json:"agent_name"`
	AgentType      string         `json:"agent_type"`
	Content        string         `json:"content"`
	MessageType    string         `json:"message_type"`
	Timestamp      time.Time      `json:"timestamp"`
	ResponseTimeMS int64          `json:"response_time_ms,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
