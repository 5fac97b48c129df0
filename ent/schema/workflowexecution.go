package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WorkflowExecution holds the schema definition for one workflow run. The
// full mutable state (executed nodes, messages, pause context) lives on this
// single row and is written via atomic upsert.
type WorkflowExecution struct {
	ent.Schema
}

// Fields of the WorkflowExecution.
func (WorkflowExecution) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("execution_id").
			Unique().
			Immutable(),
		field.String("workflow_id"),
		field.String("project_id"),
		field.Enum("status").
			Values("pending", "running", "awaiting_human_input", "completed", "failed", "stopped").
			Default("pending"),
		field.Text("initial_input").
			Optional().
			Comment("Prompt submitted with the execution"),
		field.JSON("executed_nodes", map[string]string{}).
			Optional().
			Comment("node_id -> textual output of each completed node"),
		field.JSON("executed_markers", []string{}).
			Optional().
			Comment("Completed marker nodes with no consumable output"),
		field.JSON("messages_data", []map[string]interface{}{}).
			Optional().
			Comment("Rendered conversation history, strictly monotonic sequence"),
		field.Text("conversation_history").
			Optional(),
		field.Bool("human_input_required").
			Default(false),
		field.String("awaiting_human_input_agent").
			Optional().
			Nillable(),
		field.String("human_input_agent_id").
			Optional().
			Nillable(),
		field.JSON("human_input_context", map[string]interface{}{}).
			Optional(),
		field.Time("human_input_requested_at").
			Optional().
			Nillable(),
		field.Time("human_input_received_at").
			Optional().
			Nillable(),
		field.JSON("delegate_conversations", map[string][]string{}).
			Optional().
			Comment("Per-GCM structured delegate conversation logs"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("start_time").
			Optional().
			Nillable(),
		field.Time("end_time").
			Optional().
			Nillable(),
		field.Float("duration_seconds").
			Optional(),
		field.Int("total_messages").
			Default(0),
		field.Int("total_agents_involved").
			Default(0),
		field.Text("result_summary").
			Optional(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.String("pod_id").
			Optional().
			Nillable().
			Comment("For multi-replica coordination"),
		field.Time("last_interaction_at").
			Optional().
			Nillable().
			Comment("For orphan detection"),
		field.Time("deleted_at").
			Optional().
			Nillable().
			Comment("Soft delete for retention policy"),
	}
}

// Edges of the WorkflowExecution.
func (WorkflowExecution) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("workflow", Workflow.Type).
			Ref("executions").
			Field("workflow_id").
			Unique().
			Required(),
		edge.To("human_input_interactions", HumanInputInteraction.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the WorkflowExecution.
func (WorkflowExecution) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("workflow_id"),
		index.Fields("project_id"),
		index.Fields("status", "created_at"),
		index.Fields("human_input_required", "human_input_requested_at"),
		index.Fields("status", "last_interaction_at"),
		index.Fields("deleted_at").
			Annotations(entsql.IndexWhere("deleted_at IS NOT NULL")),
	}
}
