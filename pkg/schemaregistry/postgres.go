package schemaregistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRegistry struct {
	pool *pgxpool.Pool
}

func newPostgresRegistry(ctx context.Context, dsn string) (*postgresRegistry, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres registry: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRegistry{pool: pool}, nil
}

func (r *postgresRegistry) Register(ctx context.Context, subject string, schema Schema, _ bool) (int, error) {
	if subject == "" {
		return 0, fmt.Errorf("schema registry subject is required")
	}
	if schema.Schema == "" {
		return 0, fmt.Errorf("schema registry schema is required")
	}
	schemaHash, refsJSON, refsHash, err := schemaIdentity(schema)
	if err != nil {
		return 0, err
	}

	var existingID int
	err = r.pool.QueryRow(ctx, `SELECT id
		FROM schemawire_schemas
		WHERE subject=$1 AND schema_hash=$2 AND references_hash=$3`,
		subject, schemaHash, refsHash).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("check existing schema: %w", err)
	}

	var nextVersion int
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1
		FROM schemawire_schemas WHERE subject=$1`, subject).Scan(&nextVersion); err != nil {
		return 0, fmt.Errorf("fetch next version: %w", err)
	}

	var id int
	if err := r.pool.QueryRow(ctx, `INSERT INTO schemawire_schemas
		(subject, schema_type, schema, schema_hash, references_json, references_hash, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		subject, string(schema.Type), schema.Schema, schemaHash, refsJSON, refsHash, nextVersion).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert schema: %w", err)
	}
	return id, nil
}

func (r *postgresRegistry) Lookup(ctx context.Context, subject string, schema Schema, _ bool) (SubjectSchema, error) {
	schemaHash, _, refsHash, err := schemaIdentity(schema)
	if err != nil {
		return SubjectSchema{}, err
	}
	row := r.pool.QueryRow(ctx, `SELECT id, subject, schema_type, schema, references_json, version
		FROM schemawire_schemas
		WHERE subject=$1 AND schema_hash=$2 AND references_hash=$3`,
		subject, schemaHash, refsHash)
	registered, err := scanSubjectSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubjectSchema{}, fmt.Errorf("%w: subject %s has no matching schema", ErrNotFound, subject)
	}
	return registered, err
}

func (r *postgresRegistry) Latest(ctx context.Context, subject string) (SubjectSchema, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, subject, schema_type, schema, references_json, version
		FROM schemawire_schemas
		WHERE subject=$1 ORDER BY version DESC LIMIT 1`, subject)
	registered, err := scanSubjectSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubjectSchema{}, fmt.Errorf("%w: subject %s", ErrNotFound, subject)
	}
	return registered, err
}

func (r *postgresRegistry) Version(ctx context.Context, subject string, version int) (SubjectSchema, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, subject, schema_type, schema, references_json, version
		FROM schemawire_schemas
		WHERE subject=$1 AND version=$2`, subject, version)
	registered, err := scanSubjectSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubjectSchema{}, fmt.Errorf("%w: subject %s version %d", ErrNotFound, subject, version)
	}
	return registered, err
}

func (r *postgresRegistry) Versions(ctx context.Context, subject string) ([]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM schemawire_schemas
		WHERE subject=$1 ORDER BY version`, subject)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: subject %s", ErrNotFound, subject)
	}
	return versions, nil
}

func (r *postgresRegistry) SchemaByID(ctx context.Context, id int) (Schema, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, subject, schema_type, schema, references_json, version
		FROM schemawire_schemas WHERE id=$1`, id)
	registered, err := scanSubjectSchema(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schema{}, fmt.Errorf("%w: schema id %d", ErrNotFound, id)
	}
	if err != nil {
		return Schema{}, err
	}
	return registered.Schema, nil
}

func (r *postgresRegistry) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func scanSubjectSchema(row pgx.Row) (SubjectSchema, error) {
	var (
		registered SubjectSchema
		schemaType string
		refsJSON   string
	)
	err := row.Scan(&registered.ID, &registered.Subject, &schemaType,
		&registered.Schema.Schema, &refsJSON, &registered.Version)
	if err != nil {
		return SubjectSchema{}, err
	}
	registered.Type = SchemaType(schemaType)
	if refsJSON != "" && refsJSON != "null" {
		if err := json.Unmarshal([]byte(refsJSON), &registered.References); err != nil {
			return SubjectSchema{}, fmt.Errorf("decode references: %w", err)
		}
	}
	return registered, nil
}

// schemaIdentity derives the stable identity columns for a schema: the hash
// of its text and the hash of its references in a canonical order.
func schemaIdentity(schema Schema) (schemaHash, refsJSON, refsHash string, err error) {
	refs := normalizeReferences(schema.References)
	encoded, err := json.Marshal(refs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal references: %w", err)
	}
	return hashString(schema.Schema), string(encoded), hashString(string(encoded)), nil
}

func hashString(value string) string {
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:])
}

func normalizeReferences(refs []Reference) []Reference {
	if len(refs) == 0 {
		return nil
	}
	clone := append([]Reference(nil), refs...)
	sort.Slice(clone, func(i, j int) bool {
		if clone[i].Subject == clone[j].Subject {
			return clone[i].Name < clone[j].Name
		}
		return clone[i].Subject < clone[j].Subject
	})
	return clone
}
