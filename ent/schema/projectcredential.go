package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ProjectCredential holds one encrypted provider API key for a project.
// Values are AES-256-GCM encrypted before storage; the cipher key never
// touches the database.
type ProjectCredential struct {
	ent.Schema
}

// Fields of the ProjectCredential.
func (ProjectCredential) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("credential_id").
			Unique().
			Immutable(),
		field.String("project_id"),
		field.String("provider").
			Comment("Canonical provider name: openai, anthropic, google"),
		field.Text("encrypted_key"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the ProjectCredential.
func (ProjectCredential) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "provider").
			Unique(),
	}
}
