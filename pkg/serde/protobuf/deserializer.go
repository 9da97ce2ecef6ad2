package protobuf

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/milindl/schemawire/pkg/serde"
	"github.com/milindl/schemawire/pkg/wire"
)

// Deserializer decodes schema registry framed records into messages of one
// bound type. Records are self-describing enough for this: the message index
// in the envelope is read and discarded, and the payload is decoded as the
// bound type directly, with no registry round trip.
type Deserializer struct {
	messageType       protoreflect.MessageType
	deprecatedIndexes bool
}

// NewDeserializer binds a deserializer to the concrete message type of
// prototype.
func NewDeserializer(prototype proto.Message, conf serde.Config) (*Deserializer, error) {
	if prototype == nil {
		return nil, fmt.Errorf("%w: a prototype message is required", serde.ErrInvalidConfiguration)
	}
	if err := conf.Validate(serde.OptDeprecatedIndexFormat); err != nil {
		return nil, err
	}
	deprecated, err := conf.RequiredBool(serde.OptDeprecatedIndexFormat)
	if err != nil {
		return nil, err
	}
	// Walking the index up front rejects malformed descriptor trees at
	// construction instead of on the consume path.
	if _, err := MessageIndex(prototype.ProtoReflect().Descriptor()); err != nil {
		return nil, err
	}
	return &Deserializer{
		messageType:       prototype.ProtoReflect().Type(),
		deprecatedIndexes: deprecated,
	}, nil
}

// Deserialize decodes one framed record. Nil input returns a nil message,
// the tombstone convention. Framing defects unwrap to serde.ErrInvalidRecord
// and payload defects to serde.ErrDecode.
func (d *Deserializer) Deserialize(sctx serde.Context, data []byte) (proto.Message, error) {
	if data == nil {
		return nil, nil
	}
	env, err := wire.Parse(data, !d.deprecatedIndexes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serde.ErrInvalidRecord, err)
	}
	msg := d.messageType.New().Interface()
	if err := proto.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w %s: %w", serde.ErrDecode, d.messageType.Descriptor().FullName(), err)
	}
	return msg, nil
}
