package avro

import (
	"context"

	"github.com/milindl/schemawire/pkg/schemaregistry"
)

const orderSchemaText = `{
	"type": "record",
	"name": "Order",
	"namespace": "demo",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "amount", "type": "long"}
	]
}`

type orderRecord struct {
	ID     string `avro:"id"`
	Amount int64  `avro:"amount"`
}

// trackingRegistry counts and records the store calls that reach it.
type trackingRegistry struct {
	schemaregistry.Registry
	registerSubjects []string
	registers        int
	lookups          int
	latests          int
	schemaFetches    int
}

func newTrackingRegistry() *trackingRegistry {
	return &trackingRegistry{Registry: schemaregistry.NewLocalRegistry()}
}

func (r *trackingRegistry) Register(ctx context.Context, subject string, schema schemaregistry.Schema, normalize bool) (int, error) {
	r.registers++
	r.registerSubjects = append(r.registerSubjects, subject)
	return r.Registry.Register(ctx, subject, schema, normalize)
}

func (r *trackingRegistry) Lookup(ctx context.Context, subject string, schema schemaregistry.Schema, normalize bool) (schemaregistry.SubjectSchema, error) {
	r.lookups++
	return r.Registry.Lookup(ctx, subject, schema, normalize)
}

func (r *trackingRegistry) Latest(ctx context.Context, subject string) (schemaregistry.SubjectSchema, error) {
	r.latests++
	return r.Registry.Latest(ctx, subject)
}

func (r *trackingRegistry) SchemaByID(ctx context.Context, id int) (schemaregistry.Schema, error) {
	r.schemaFetches++
	return r.Registry.SchemaByID(ctx, id)
}

// stubRegistry answers every call with one fixed id and version.
type stubRegistry struct {
	id      int
	version int
}

func (s *stubRegistry) Register(context.Context, string, schemaregistry.Schema, bool) (int, error) {
	return s.id, nil
}

func (s *stubRegistry) Lookup(context.Context, string, schemaregistry.Schema, bool) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Latest(context.Context, string) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Version(context.Context, string, int) (schemaregistry.SubjectSchema, error) {
	return schemaregistry.SubjectSchema{ID: s.id, Version: s.version}, nil
}

func (s *stubRegistry) Versions(context.Context, string) ([]int, error) {
	return []int{s.version}, nil
}

func (s *stubRegistry) SchemaByID(context.Context, int) (schemaregistry.Schema, error) {
	return schemaregistry.Schema{}, nil
}

func (s *stubRegistry) Close() error { return nil }
