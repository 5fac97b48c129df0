// Package ent holds the generated database client. Run `go generate ./ent`
// after editing schemas.
package ent

//go:generate go run -mod=mod entgo.io/ent/cmd/ent generate --feature sql/upsert,sql/lock ./schema
