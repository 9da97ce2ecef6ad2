// Package schemaregistry stores and resolves versioned schemas under named
// subjects. The Registry interface covers the operations the serdes and the
// CLI consume; implementations back it with the Confluent REST API, an
// Apicurio compatibility endpoint, Postgres, or process-local memory.
package schemaregistry

import (
	"context"
	"errors"
)

// SchemaType identifies the schema language of a registered schema.
type SchemaType string

const (
	SchemaTypeAvro     SchemaType = "AVRO"
	SchemaTypeProtobuf SchemaType = "PROTOBUF"
	SchemaTypeJSON     SchemaType = "JSON"
)

// ErrNotFound reports a subject, version, or schema the registry does not
// hold. Lookup callers match on it to fall back to registration.
var ErrNotFound = errors.New("not found in schema registry")

// Reference names one schema that another schema depends on, pinned to the
// registered version the parent was validated against.
type Reference struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// Schema is the registerable form of one schema: its serialized text, its
// type, and the references it depends on.
type Schema struct {
	Schema     string      `json:"schema"`
	Type       SchemaType  `json:"schemaType,omitempty"`
	References []Reference `json:"references,omitempty"`
}

// SubjectSchema pairs a schema with the coordinates the registry assigned
// to it under one subject.
type SubjectSchema struct {
	Schema
	Subject string
	ID      int
	Version int
}

// Registry is a versioned schema store. Register is idempotent: submitting
// a schema already registered under the subject returns the existing id.
type Registry interface {
	Register(ctx context.Context, subject string, schema Schema, normalize bool) (int, error)
	Lookup(ctx context.Context, subject string, schema Schema, normalize bool) (SubjectSchema, error)
	Latest(ctx context.Context, subject string) (SubjectSchema, error)
	Version(ctx context.Context, subject string, version int) (SubjectSchema, error)
	Versions(ctx context.Context, subject string) ([]int, error)
	SchemaByID(ctx context.Context, id int) (Schema, error)
	Close() error
}
