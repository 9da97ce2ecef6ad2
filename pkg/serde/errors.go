package serde

import "errors"

var (
	// ErrInvalidConfiguration reports a construction-time configuration
	// defect: an unrecognized option, a value of the wrong type, a missing
	// mandatory option, or mutually exclusive options both enabled.
	ErrInvalidConfiguration = errors.New("invalid serde configuration")

	// ErrTypeMismatch reports a message whose type differs from the one the
	// serializer was bound to at construction.
	ErrTypeMismatch = errors.New("message type does not match the serializer's bound type")

	// ErrInvalidRecord reports input bytes that were not produced by a
	// schema registry serializer: too short, wrong magic byte, or a
	// malformed message index.
	ErrInvalidRecord = errors.New("record was not produced with a schema registry serializer")

	// ErrDecode reports a structurally valid envelope whose payload could
	// not be decoded into the bound type.
	ErrDecode = errors.New("decode record payload")

	// ErrValidation reports a value that does not conform to its schema.
	ErrValidation = errors.New("value does not conform to the schema")
)
