// Package serde defines the surface shared by the schema registry
// serializers and deserializers: the per-call serialization context,
// subject name strategies, option handling, and the error kinds callers
// match on with errors.Is.
package serde

// Field identifies which half of a record a serde operates on. The value is
// part of the subject derived by TopicNameStrategy, so the strings are fixed.
type Field string

const (
	FieldKey   Field = "key"
	FieldValue Field = "value"
)

// Context carries the per-call metadata a serde needs to derive the registry
// subject for a record.
type Context struct {
	Topic string
	Field Field
}
