// Package jsonschema frames JSON documents in the schema registry wire
// format. Like Avro, JSON schemas describe a single root shape, so the
// envelope carries no message index. Values are validated against the
// schema before framing unless validation is switched off.
package jsonschema

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// Serializer frames values of one JSON schema, registering or resolving the
// schema as configured.
//
// A Serializer tracks which subjects it has resolved and is not safe for
// concurrent use; give each producer goroutine its own instance.
type Serializer struct {
	registry schemaregistry.Registry
	compiled *jsonschema.Schema

	autoRegister bool
	normalize    bool
	useLatest    bool
	validate     bool
	subjectName  serde.SubjectNameFunc

	recordName string
	rendered   schemaregistry.Schema
	schemaID   int
	known      map[string]struct{}
}

// NewSerializer compiles schemaText and binds a serializer to it. The
// schema's title, when present, names the record for subject strategies
// that use record names.
func NewSerializer(registry schemaregistry.Registry, schemaText string, conf serde.Config) (*Serializer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: a schema registry is required", serde.ErrInvalidConfiguration)
	}
	if schemaText == "" {
		return nil, fmt.Errorf("%w: a json schema is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(
		serde.OptAutoRegisterSchemas,
		serde.OptNormalizeSchemas,
		serde.OptUseLatestVersion,
		serde.OptSubjectNameStrategy,
		serde.OptValidateRecords,
	); err != nil {
		return nil, err
	}

	compiled, err := jsonschema.CompileString("schema.json", schemaText)
	if err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}
	s := &Serializer{
		registry: registry,
		compiled: compiled,
		rendered: schemaregistry.Schema{Schema: schemaText, Type: schemaregistry.SchemaTypeJSON},
		known:    make(map[string]struct{}),
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(schemaText), &doc); err == nil {
		if title, ok := doc["title"].(string); ok {
			s.recordName = title
		}
	}

	if s.autoRegister, err = conf.Bool(serde.OptAutoRegisterSchemas, true); err != nil {
		return nil, err
	}
	if s.normalize, err = conf.Bool(serde.OptNormalizeSchemas, false); err != nil {
		return nil, err
	}
	if s.useLatest, err = conf.Bool(serde.OptUseLatestVersion, false); err != nil {
		return nil, err
	}
	if s.validate, err = conf.Bool(serde.OptValidateRecords, true); err != nil {
		return nil, err
	}
	if s.subjectName, err = conf.SubjectName(serde.OptSubjectNameStrategy, serde.TopicNameStrategy); err != nil {
		return nil, err
	}
	if s.useLatest && s.autoRegister {
		return nil, fmt.Errorf("%w: %s and %s are mutually exclusive; disable %s to pin the latest registered version",
			serde.ErrInvalidConfiguration, serde.OptUseLatestVersion, serde.OptAutoRegisterSchemas, serde.OptAutoRegisterSchemas)
	}
	return s, nil
}

// Serialize frames v for the topic and field in sctx. A nil v returns nil
// bytes, the tombstone convention. The first call for a subject resolves the
// schema id against the registry; later calls reuse it.
func (s *Serializer) Serialize(ctx context.Context, sctx serde.Context, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	subject, err := s.subjectName(sctx, s.recordName)
	if err != nil {
		return nil, fmt.Errorf("derive subject: %w", err)
	}
	if _, ok := s.known[subject]; !ok {
		if err := s.resolveSubject(ctx, subject); err != nil {
			return nil, err
		}
		s.known[subject] = struct{}{}
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json value: %w", err)
	}
	if s.validate {
		if err := validate(s.compiled, payload); err != nil {
			return nil, err
		}
	}
	if s.schemaID < 0 || int64(s.schemaID) > math.MaxUint32 {
		return nil, fmt.Errorf("schema id %d does not fit the wire format", s.schemaID)
	}
	buf := make([]byte, 0, wire.HeaderLen+len(payload))
	return append(wire.AppendHeader(buf, uint32(s.schemaID)), payload...), nil
}

func (s *Serializer) resolveSubject(ctx context.Context, subject string) error {
	if s.useLatest {
		latest, err := s.registry.Latest(ctx, subject)
		if err != nil {
			return fmt.Errorf("fetch latest version of %s: %w", subject, err)
		}
		s.schemaID = latest.ID
		return nil
	}
	if s.autoRegister {
		id, err := s.registry.Register(ctx, subject, s.rendered, s.normalize)
		if err != nil {
			return fmt.Errorf("register schema under %s: %w", subject, err)
		}
		s.schemaID = id
		return nil
	}
	registered, err := s.registry.Lookup(ctx, subject, s.rendered, s.normalize)
	if err != nil {
		return fmt.Errorf("look up schema under %s: %w", subject, err)
	}
	s.schemaID = registered.ID
	return nil
}

// validate checks an encoded JSON document against a compiled schema.
func validate(schema *jsonschema.Schema, payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %w", serde.ErrDecode, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", serde.ErrValidation, err)
	}
	return nil
}
