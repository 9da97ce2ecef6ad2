// Package wire implements the framing that schema registry serializers
// apply to record payloads: a magic byte, a big-endian schema id, and, for
// protobuf records, a varint message index locating the encoded type inside
// its schema file.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MagicByte tags every record framed by a schema registry serializer.
const MagicByte byte = 0x0

const (
	// HeaderLen is the fixed size of the magic byte plus schema id prefix.
	HeaderLen = 5
	// minEnvelopeLen additionally counts the shortest possible message index.
	minEnvelopeLen = HeaderLen + 1
)

var (
	// ErrTooShort rejects input smaller than the framing prefix. Such bytes
	// were not produced by a schema registry serializer.
	ErrTooShort = errors.New("record too short for schema registry framing")
	// ErrBadMagic rejects input whose leading byte is not MagicByte.
	ErrBadMagic = errors.New("unknown magic byte")
)

// Envelope is the decoded framing of one record.
type Envelope struct {
	SchemaID uint32
	Index    []int
	// Payload aliases the tail of the parsed input; it is not a copy.
	Payload []byte
}

// AppendHeader appends the magic byte and big-endian schema id to buf. This
// is the complete framing for formats without a message index.
func AppendHeader(buf []byte, schemaID uint32) []byte {
	buf = append(buf, MagicByte)
	return binary.BigEndian.AppendUint32(buf, schemaID)
}

// ParseHeader validates the framing prefix of data and returns the schema id
// together with the bytes that follow the prefix.
func ParseHeader(data []byte) (uint32, []byte, error) {
	if len(data) < HeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	if data[0] != MagicByte {
		return 0, nil, fmt.Errorf("%w: 0x%02x", ErrBadMagic, data[0])
	}
	return binary.BigEndian.Uint32(data[1:HeaderLen]), data[HeaderLen:], nil
}

// Append frames payload with the full protobuf envelope: header, message
// index, then the payload bytes verbatim.
func Append(buf []byte, schemaID uint32, index []int, payload []byte, zigzag bool) []byte {
	buf = AppendHeader(buf, schemaID)
	buf = AppendIndex(buf, index, zigzag)
	return append(buf, payload...)
}

// Parse decodes a full protobuf envelope. The returned payload aliases data.
func Parse(data []byte, zigzag bool) (Envelope, error) {
	if len(data) < minEnvelopeLen {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(data))
	}
	schemaID, rest, err := ParseHeader(data)
	if err != nil {
		return Envelope{}, err
	}
	r := bytes.NewReader(rest)
	index, err := ReadIndex(r, zigzag)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SchemaID: schemaID,
		Index:    index,
		Payload:  rest[len(rest)-r.Len():],
	}, nil
}
