package serde

// SubjectNameFunc derives the registry subject a record type is registered
// and looked up under. recordName is the fully qualified name of the record
// type, when the format has one.
type SubjectNameFunc func(ctx Context, recordName string) (string, error)

// ReferenceSubjectNameFunc derives the subject for a schema file referenced
// by the one being registered.
type ReferenceSubjectNameFunc func(ctx Context, refName string) (string, error)

// TopicNameStrategy subjects records under {topic}-{field}. One record type
// per topic and field; the default.
func TopicNameStrategy(ctx Context, _ string) (string, error) {
	return ctx.Topic + "-" + string(ctx.Field), nil
}

// RecordNameStrategy subjects records under their fully qualified type name,
// decoupling the subject from the topic.
func RecordNameStrategy(_ Context, recordName string) (string, error) {
	return recordName, nil
}

// TopicRecordNameStrategy subjects records under {topic}-{record name},
// allowing several record types per topic without cross-topic coupling.
func TopicRecordNameStrategy(ctx Context, recordName string) (string, error) {
	return ctx.Topic + "-" + recordName, nil
}

// ReferenceSubjectNameStrategy subjects referenced schema files under their
// own name; the default for schema references.
func ReferenceSubjectNameStrategy(_ Context, refName string) (string, error) {
	return refName, nil
}
