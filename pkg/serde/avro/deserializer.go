package avro

import (
	"context"
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// Deserializer decodes schema registry framed Avro records. The writer
// schema is fetched from the registry by the id in the envelope and parsed
// once per id.
//
// A Deserializer caches parsed schemas and is not safe for concurrent use;
// give each consumer goroutine its own instance.
type Deserializer struct {
	registry schemaregistry.Registry
	schemas  map[uint32]avro.Schema
}

// NewDeserializer builds a deserializer backed by registry.
func NewDeserializer(registry schemaregistry.Registry, conf serde.Config) (*Deserializer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: a schema registry is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Deserializer{
		registry: registry,
		schemas:  make(map[uint32]avro.Schema),
	}, nil
}

// Deserialize decodes one framed record into v. Nil input is a tombstone
// and leaves v untouched. Framing defects unwrap to serde.ErrInvalidRecord
// and payload defects to serde.ErrDecode.
func (d *Deserializer) Deserialize(ctx context.Context, sctx serde.Context, data []byte, v any) error {
	if data == nil {
		return nil
	}
	id, payload, err := wire.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("%w: %w", serde.ErrInvalidRecord, err)
	}
	schema, err := d.writerSchema(ctx, id)
	if err != nil {
		return err
	}
	if err := avro.Unmarshal(schema, payload, v); err != nil {
		return fmt.Errorf("%w with schema id %d: %w", serde.ErrDecode, id, err)
	}
	return nil
}

func (d *Deserializer) writerSchema(ctx context.Context, id uint32) (avro.Schema, error) {
	if schema, ok := d.schemas[id]; ok {
		return schema, nil
	}
	stored, err := d.registry.SchemaByID(ctx, int(id))
	if err != nil {
		return nil, fmt.Errorf("fetch schema %d: %w", id, err)
	}
	schema, err := avro.Parse(stored.Schema)
	if err != nil {
		return nil, fmt.Errorf("parse schema %d: %w", id, err)
	}
	d.schemas[id] = schema
	return schema, nil
}
