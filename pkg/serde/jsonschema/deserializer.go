package jsonschema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// Deserializer decodes schema registry framed JSON records. The writer
// schema is fetched from the registry by the id in the envelope, compiled
// once per id, and used to validate payloads unless validation is switched
// off.
//
// A Deserializer caches compiled schemas and is not safe for concurrent
// use; give each consumer goroutine its own instance.
type Deserializer struct {
	registry schemaregistry.Registry
	validate bool
	schemas  map[uint32]*jsonschema.Schema
}

// NewDeserializer builds a deserializer backed by registry.
func NewDeserializer(registry schemaregistry.Registry, conf serde.Config) (*Deserializer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: a schema registry is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(serde.OptValidateRecords); err != nil {
		return nil, err
	}
	d := &Deserializer{
		registry: registry,
		schemas:  make(map[uint32]*jsonschema.Schema),
	}
	var err error
	if d.validate, err = conf.Bool(serde.OptValidateRecords, true); err != nil {
		return nil, err
	}
	return d, nil
}

// Deserialize decodes one framed record into v. Nil input is a tombstone
// and leaves v untouched. Framing defects unwrap to serde.ErrInvalidRecord,
// payload defects to serde.ErrDecode, and schema violations to
// serde.ErrValidation.
func (d *Deserializer) Deserialize(ctx context.Context, sctx serde.Context, data []byte, v any) error {
	if data == nil {
		return nil
	}
	id, payload, err := wire.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("%w: %w", serde.ErrInvalidRecord, err)
	}
	if d.validate {
		schema, err := d.writerSchema(ctx, id)
		if err != nil {
			return err
		}
		if err := validate(schema, payload); err != nil {
			return fmt.Errorf("schema id %d: %w", id, err)
		}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w with schema id %d: %w", serde.ErrDecode, id, err)
	}
	return nil
}

func (d *Deserializer) writerSchema(ctx context.Context, id uint32) (*jsonschema.Schema, error) {
	if schema, ok := d.schemas[id]; ok {
		return schema, nil
	}
	stored, err := d.registry.SchemaByID(ctx, int(id))
	if err != nil {
		return nil, fmt.Errorf("fetch schema %d: %w", id, err)
	}
	schema, err := jsonschema.CompileString("schema.json", stored.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema %d: %w", id, err)
	}
	d.schemas[id] = schema
	return schema, nil
}
