package schemaregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// cachedRegistry absorbs repeat Register, Lookup, and SchemaByID calls.
// Registration is idempotent and registered schemas are immutable, so both
// sides are safe to memoize for the life of the process. Latest and Version
// pass through: "latest" can change under us.
type cachedRegistry struct {
	base Registry

	mu       sync.Mutex
	register map[string]int
	lookup   map[string]SubjectSchema
	byID     map[int]Schema
}

func newCachedRegistry(base Registry) Registry {
	if base == nil {
		return nil
	}
	return &cachedRegistry{
		base:     base,
		register: make(map[string]int),
		lookup:   make(map[string]SubjectSchema),
		byID:     make(map[int]Schema),
	}
}

func (c *cachedRegistry) Register(ctx context.Context, subject string, schema Schema, normalize bool) (int, error) {
	key := subject + "::" + schemaFingerprint(schema)
	c.mu.Lock()
	if id, ok := c.register[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.base.Register(ctx, subject, schema, normalize)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.register[key] = id
	c.mu.Unlock()
	return id, nil
}

func (c *cachedRegistry) Lookup(ctx context.Context, subject string, schema Schema, normalize bool) (SubjectSchema, error) {
	key := subject + "::" + schemaFingerprint(schema)
	c.mu.Lock()
	if existing, ok := c.lookup[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	registered, err := c.base.Lookup(ctx, subject, schema, normalize)
	if err != nil {
		return SubjectSchema{}, err
	}
	c.mu.Lock()
	c.lookup[key] = registered
	c.mu.Unlock()
	return registered, nil
}

func (c *cachedRegistry) Latest(ctx context.Context, subject string) (SubjectSchema, error) {
	return c.base.Latest(ctx, subject)
}

func (c *cachedRegistry) Version(ctx context.Context, subject string, version int) (SubjectSchema, error) {
	return c.base.Version(ctx, subject, version)
}

func (c *cachedRegistry) Versions(ctx context.Context, subject string) ([]int, error) {
	return c.base.Versions(ctx, subject)
}

func (c *cachedRegistry) SchemaByID(ctx context.Context, id int) (Schema, error) {
	c.mu.Lock()
	if schema, ok := c.byID[id]; ok {
		c.mu.Unlock()
		return schema, nil
	}
	c.mu.Unlock()

	schema, err := c.base.SchemaByID(ctx, id)
	if err != nil {
		return Schema{}, err
	}
	c.mu.Lock()
	c.byID[id] = schema
	c.mu.Unlock()
	return schema, nil
}

func (c *cachedRegistry) Close() error {
	if c.base == nil {
		return nil
	}
	return c.base.Close()
}

// schemaFingerprint hashes everything that makes a schema distinct: its
// type, text, and references.
func schemaFingerprint(schema Schema) string {
	refs, _ := json.Marshal(schema.References)
	payload := string(schema.Type) + "::" + schema.Schema + "::" + string(refs)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}
