// Package avro frames Avro records in the schema registry wire format.
// Unlike protobuf, Avro schemas name a single root type, so the envelope
// carries no message index: records are the magic byte, the schema id, and
// the Avro binary encoding.
package avro

import (
	"context"
	"fmt"
	"math"

	"github.com/hamba/avro/v2"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// Serializer frames values of one Avro schema, registering or resolving the
// schema as configured.
//
// A Serializer tracks which subjects it has resolved and is not safe for
// concurrent use; give each producer goroutine its own instance.
type Serializer struct {
	registry schemaregistry.Registry
	schema   avro.Schema

	autoRegister bool
	normalize    bool
	useLatest    bool
	subjectName  serde.SubjectNameFunc

	recordName string
	rendered   schemaregistry.Schema
	schemaID   int
	known      map[string]struct{}
}

// NewSerializer parses schemaText and binds a serializer to it.
func NewSerializer(registry schemaregistry.Registry, schemaText string, conf serde.Config) (*Serializer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: a schema registry is required", serde.ErrInvalidConfiguration)
	}
	if schemaText == "" {
		return nil, fmt.Errorf("%w: an avro schema is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(
		serde.OptAutoRegisterSchemas,
		serde.OptNormalizeSchemas,
		serde.OptUseLatestVersion,
		serde.OptSubjectNameStrategy,
	); err != nil {
		return nil, err
	}

	schema, err := avro.Parse(schemaText)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	s := &Serializer{
		registry: registry,
		schema:   schema,
		rendered: schemaregistry.Schema{Schema: schemaText, Type: schemaregistry.SchemaTypeAvro},
		known:    make(map[string]struct{}),
	}
	if named, ok := schema.(avro.NamedSchema); ok {
		s.recordName = named.FullName()
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

	payload, err := avro.Marshal(s.schema, v)
	if err != nil {
		return nil, fmt.Errorf("marshal avro value: %w", err)
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
