package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// HumanInputInteraction holds the audit record for every human response
// delivered to a paused execution. Persisted separately from the execution
// row.
type HumanInputInteraction struct {
	ent.Schema
}

// Fields of the HumanInputInteraction.
func (HumanInputInteraction) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("interaction_id").
			Unique().
			Immutable(),
		field.String("execution_id"),
		field.String("agent_name"),
		field.String("agent_id").
			Optional(),
		field.JSON("input_messages", []map[string]interface{}{}).
			Optional().
			Comment("Inputs shown to the human at pause time"),
		field.Text("human_response"),
		field.String("action").
			Default("submit"),
		field.Text("conversation_context").
			Optional(),
		field.Time("requested_at").
			Optional().
			Nillable(),
		field.Time("responded_at").
			Default(time.Now),
		field.Int("input_sources_count").
			Default(0),
		field.Int("workflow_paused_at_sequence").
			Default(0),
	}
}

// Edges of the HumanInputInteraction.
func (HumanInputInteraction) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("execution", WorkflowExecution.Type).
			Ref("human_input_interactions").
			Field("execution_id").
			Unique().
			Required(),
	}
}

// Indexes of the HumanInputInteraction.
func (HumanInputInteraction) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("execution_id"),
		index.Fields("responded_at"),
	}
}
