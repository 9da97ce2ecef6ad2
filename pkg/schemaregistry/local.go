package schemaregistry

import (
	"context"
	"fmt"
	"sync"
)

// localRegistry is a process-local store with the same idempotency and
// versioning behavior as a real registry. Schemas share ids across subjects
// the way Confluent assigns them globally.
type localRegistry struct {
	mu       sync.Mutex
	nextID   int
	ids      map[string]int   // schema fingerprint -> id
	byID     map[int]Schema   // id -> schema
	subjects map[string][]SubjectSchema
}

// NewLocalRegistry returns an in-memory Registry, useful in tests and as a
// stand-in registry for offline tooling.
func NewLocalRegistry() Registry {
	return &localRegistry{
		nextID:   1,
		ids:      make(map[string]int),
		byID:     make(map[int]Schema),
		subjects: make(map[string][]SubjectSchema),
	}
}

func (r *localRegistry) Register(_ context.Context, subject string, schema Schema, _ bool) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("schema registry subject is required")
	}
	if schema.Schema == "" {
		return 0, fmt.Errorf("schema registry schema is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fingerprint := schemaFingerprint(schema)
	if existing, ok := r.find(subject, fingerprint); ok {
		return existing.ID, nil
	}

	id, ok := r.ids[fingerprint]
	if !ok {
		id = r.nextID
		r.nextID++
		r.ids[fingerprint] = id
		r.byID[id] = schema
	}
	r.subjects[subject] = append(r.subjects[subject], SubjectSchema{
		Schema:  schema,
		Subject: subject,
		ID:      id,
		Version: len(r.subjects[subject]) + 1,
	})
	return id, nil
}

func (r *localRegistry) Lookup(_ context.Context, subject string, schema Schema, _ bool) (SubjectSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.find(subject, schemaFingerprint(schema)); ok {
		return existing, nil
	}
	return SubjectSchema{}, fmt.Errorf("%w: subject %s has no matching schema", ErrNotFound, subject)
}

func (r *localRegistry) Latest(_ context.Context, subject string) (SubjectSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.subjects[subject]
	if len(versions) == 0 {
		return SubjectSchema{}, fmt.Errorf("%w: subject %s", ErrNotFound, subject)
	}
	return versions[len(versions)-1], nil
}

func (r *localRegistry) Version(_ context.Context, subject string, version int) (SubjectSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ss := range r.subjects[subject] {
		if ss.Version == version {
			return ss, nil
		}
	}
	return SubjectSchema{}, fmt.Errorf("%w: subject %s version %d", ErrNotFound, subject, version)
}

func (r *localRegistry) Versions(_ context.Context, subject string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	registered := r.subjects[subject]
	if len(registered) == 0 {
		return nil, fmt.Errorf("%w: subject %s", ErrNotFound, subject)
	}
	versions := make([]int, 0, len(registered))
	for _, ss := range registered {
		versions = append(versions, ss.Version)
	}
	return versions, nil
}

func (r *localRegistry) SchemaByID(_ context.Context, id int) (Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schema, ok := r.byID[id]
	if !ok {
		return Schema{}, fmt.Errorf("%w: schema id %d", ErrNotFound, id)
	}
	return schema, nil
}

func (r *localRegistry) Close() error { return nil }

// find assumes r.mu is held.
func (r *localRegistry) find(subject, fingerprint string) (SubjectSchema, bool) {
	for _, ss := range r.subjects[subject] {
		if schemaFingerprint(ss.Schema) == fingerprint {
			return ss, true
		}
	}
	return SubjectSchema{}, false
}
