package protobuf

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/milindl/schemawire/pkg/schemaregistry"
	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// wellKnownPrefix marks the schema files shipped with protobuf itself.
// Registries preload them, so they can be skipped as references.
const wellKnownPrefix = "google/protobuf/"

// Serializer frames protobuf messages of one type in the schema registry
// wire format, registering or resolving the type's schema as configured.
//
// A Serializer tracks which subjects it has resolved and is not safe for
// concurrent use; give each producer goroutine its own instance.
type Serializer struct {
	registry schemaregistry.Registry

	autoRegister      bool
	normalize         bool
	useLatest         bool
	skipKnownTypes    bool
	deprecatedIndexes bool
	subjectName       serde.SubjectNameFunc
	referenceSubject  serde.ReferenceSubjectNameFunc

	descriptor protoreflect.MessageDescriptor
	index      []int
	schema     schemaregistry.Schema
	schemaID   int
	known      map[string]struct{}
}

// NewSerializer binds a serializer to the concrete message type of prototype.
// The message index is computed here, once; per-call work is limited to
// subject resolution and framing.
func NewSerializer(registry schemaregistry.Registry, prototype proto.Message, conf serde.Config) (*Serializer, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: a schema registry is required", serde.ErrInvalidConfiguration)
	}
	if prototype == nil {
		return nil, fmt.Errorf("%w: a prototype message is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(
		serde.OptAutoRegisterSchemas,
		serde.OptNormalizeSchemas,
		serde.OptUseLatestVersion,
		serde.OptSkipKnownTypes,
		serde.OptSubjectNameStrategy,
		serde.OptReferenceSubjectNameStrategy,
		serde.OptDeprecatedIndexFormat,
	); err != nil {
		return nil, err
	}

	s := &Serializer{
		registry: registry,
		known:    make(map[string]struct{}),
	}
	var err error
	if s.autoRegister, err = conf.Bool(serde.OptAutoRegisterSchemas, true); err != nil {
		return nil, err
	}
	if s.normalize, err = conf.Bool(serde.OptNormalizeSchemas, false); err != nil {
		return nil, err
	}
	if s.useLatest, err = conf.Bool(serde.OptUseLatestVersion, false); err != nil {
		return nil, err
	}
	if s.skipKnownTypes, err = conf.Bool(serde.OptSkipKnownTypes, false); err != nil {
		return nil, err
	}
	if s.deprecatedIndexes, err = conf.RequiredBool(serde.OptDeprecatedIndexFormat); err != nil {
		return nil, err
	}
	if s.subjectName, err = conf.SubjectName(serde.OptSubjectNameStrategy, serde.TopicNameStrategy); err != nil {
		return nil, err
	}
	if s.referenceSubject, err = conf.ReferenceSubjectName(serde.OptReferenceSubjectNameStrategy, serde.ReferenceSubjectNameStrategy); err != nil {
		return nil, err
	}
	if s.useLatest && s.autoRegister {
		return nil, fmt.Errorf("%w: %s and %s are mutually exclusive; disable %s to pin the latest registered version",
			serde.ErrInvalidConfiguration, serde.OptUseLatestVersion, serde.OptAutoRegisterSchemas, serde.OptAutoRegisterSchemas)
	}

	s.descriptor = prototype.ProtoReflect().Descriptor()
	if s.index, err = MessageIndex(s.descriptor); err != nil {
		return nil, err
	}
	if s.schema, err = fileSchema(s.descriptor.ParentFile(), nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Serialize frames msg for the topic and field in sctx. A nil msg returns
// nil bytes, the tombstone convention. The first call for a subject resolves
// the schema id against the registry; later calls reuse it.
func (s *Serializer) Serialize(ctx context.Context, sctx serde.Context, msg proto.Message) ([]byte, error) {
	if msg == nil {
		return nil, nil
	}
	md := msg.ProtoReflect().Descriptor()
	if md.FullName() != s.descriptor.FullName() {
		return nil, fmt.Errorf("%w: got %s, bound to %s", serde.ErrTypeMismatch, md.FullName(), s.descriptor.FullName())
	}

	subject, err := s.subjectName(sctx, string(md.FullName()))
	if err != nil {
		return nil, fmt.Errorf("derive subject: %w", err)
	}
	if _, ok := s.known[subject]; !ok {
		if err := s.resolveSubject(ctx, sctx, subject); err != nil {
			return nil, err
		}
		s.known[subject] = struct{}{}
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", md.FullName(), err)
	}
	if s.schemaID < 0 || int64(s.schemaID) > math.MaxUint32 {
		return nil, fmt.Errorf("schema id %d does not fit the wire format", s.schemaID)
	}
	buf := make([]byte, 0, wire.HeaderLen+1+len(payload))
	return wire.Append(buf, uint32(s.schemaID), s.index, payload, !s.deprecatedIndexes), nil
}

// resolveSubject establishes the schema id to frame records with: the
// subject's latest registered version when configured, otherwise this
// serializer's own schema, registered or looked up after its references
// are resolved.
func (s *Serializer) resolveSubject(ctx context.Context, sctx serde.Context, subject string) error {
	if s.useLatest {
		latest, err := s.registry.Latest(ctx, subject)
		if err != nil {
			return fmt.Errorf("fetch latest version of %s: %w", subject, err)
		}
		s.schemaID = latest.ID
		return nil
	}

	refs, err := s.resolveReferences(ctx, sctx, s.descriptor.ParentFile())
	if err != nil {
		return err
	}
	s.schema.References = refs

	if s.autoRegister {
		id, err := s.registry.Register(ctx, subject, s.schema, s.normalize)
		if err != nil {
			return fmt.Errorf("register schema under %s: %w", subject, err)
		}
		s.schemaID = id
		return nil
	}
	registered, err := s.registry.Lookup(ctx, subject, s.schema, s.normalize)
	if err != nil {
		return fmt.Errorf("look up schema under %s: %w", subject, err)
	}
	s.schemaID = registered.ID
	return nil
}

// resolveReferences walks the imports of fd depth-first in declaration
// order, making sure every dependency is registered (when auto-registering)
// and resolving the version each one is pinned at. Children are handled
// before the files that import them, so every reference list names only
// schemas the registry already holds.
func (s *Serializer) resolveReferences(ctx context.Context, sctx serde.Context, fd protoreflect.FileDescriptor) ([]schemaregistry.Reference, error) {
	var refs []schemaregistry.Reference
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		dep := imports.Get(i).FileDescriptor
		if s.skipKnownTypes && strings.HasPrefix(dep.Path(), wellKnownPrefix) {
			continue
		}
		depRefs, err := s.resolveReferences(ctx, sctx, dep)
		if err != nil {
			return nil, err
		}
		subject, err := s.referenceSubject(sctx, dep.Path())
		if err != nil {
			return nil, fmt.Errorf("derive subject for reference %s: %w", dep.Path(), err)
		}
		schema, err := fileSchema(dep, depRefs)
		if err != nil {
			return nil, err
		}
		if s.autoRegister {
			if _, err := s.registry.Register(ctx, subject, schema, false); err != nil {
				return nil, fmt.Errorf("register reference %s: %w", dep.Path(), err)
			}
		}
		registered, err := s.registry.Lookup(ctx, subject, schema, false)
		if err != nil {
			return nil, fmt.Errorf("look up reference %s: %w", dep.Path(), err)
		}
		refs = append(refs, schemaregistry.Reference{
			Name:    dep.Path(),
			Subject: subject,
			Version: registered.Version,
		})
	}
	return refs, nil
}
