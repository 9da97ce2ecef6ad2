package schemaregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const contentTypeSchemaRegistry = "application/vnd.schemaregistry.v1+json"

type confluentRegistry struct {
	baseURL string
	client  *http.Client
	user    string
	pass    string
	token   string
	tracer  trace.Tracer
}

type confluentRegisterResponse struct {
	ID int `json:"id"`
}

type confluentSchemaResponse struct {
	Subject    string      `json:"subject"`
	ID         int         `json:"id"`
	Version    int         `json:"version"`
	Schema     string      `json:"schema"`
	SchemaType SchemaType  `json:"schemaType"`
	References []Reference `json:"references"`
}

func newConfluentRegistry(cfg Config) (*confluentRegistry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("schema_registry_url is required for confluent registry")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &confluentRegistry{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		user:    cfg.Username,
		pass:    cfg.Password,
		token:   cfg.Token,
		tracer:  otel.Tracer("schemawire/registry"),
	}, nil
}

func newApicurioRegistry(cfg Config) (*confluentRegistry, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("schema_registry_url is required for apicurio registry")
	}
	base := strings.TrimSuffix(cfg.URL, "/")
	if cfg.ApicurioCompat && !strings.Contains(base, "/apis/ccompat/") {
		base += "/apis/ccompat/v7"
	}
	cfg.URL = base
	return newConfluentRegistry(cfg)
}

func (r *confluentRegistry) Register(ctx context.Context, subject string, schema Schema, normalize bool) (int, error) {
	ctx, span := r.tracer.Start(ctx, "registry.register")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	if subject == "" {
		return 0, fmt.Errorf("schema registry subject is required")
	}
	if schema.Schema == "" {
		return 0, fmt.Errorf("schema registry schema is required")
	}
	path := "/subjects/" + url.PathEscape(subject) + "/versions"
	if normalize {
		path += "?normalize=true"
	}
	var decoded confluentRegisterResponse
	if err := r.send(ctx, http.MethodPost, path, schema, &decoded); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("register schema under %s: %w", subject, err)
	}
	span.SetAttributes(attribute.Int("schema.id", decoded.ID))
	return decoded.ID, nil
}

func (r *confluentRegistry) Lookup(ctx context.Context, subject string, schema Schema, normalize bool) (SubjectSchema, error) {
	ctx, span := r.tracer.Start(ctx, "registry.lookup")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	path := "/subjects/" + url.PathEscape(subject)
	if normalize {
		path += "?normalize=true"
	}
	var decoded confluentSchemaResponse
	if err := r.send(ctx, http.MethodPost, path, schema, &decoded); err != nil {
		span.RecordError(err)
		return SubjectSchema{}, fmt.Errorf("look up schema under %s: %w", subject, err)
	}
	return decoded.subjectSchema(subject), nil
}

func (r *confluentRegistry) Latest(ctx context.Context, subject string) (SubjectSchema, error) {
	ctx, span := r.tracer.Start(ctx, "registry.latest")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	path := "/subjects/" + url.PathEscape(subject) + "/versions/latest"
	var decoded confluentSchemaResponse
	if err := r.send(ctx, http.MethodGet, path, nil, &decoded); err != nil {
		span.RecordError(err)
		return SubjectSchema{}, fmt.Errorf("fetch latest version of %s: %w", subject, err)
	}
	return decoded.subjectSchema(subject), nil
}

func (r *confluentRegistry) Version(ctx context.Context, subject string, version int) (SubjectSchema, error) {
	ctx, span := r.tracer.Start(ctx, "registry.version")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject), attribute.Int("version", version))

	path := "/subjects/" + url.PathEscape(subject) + "/versions/" + strconv.Itoa(version)
	var decoded confluentSchemaResponse
	if err := r.send(ctx, http.MethodGet, path, nil, &decoded); err != nil {
		span.RecordError(err)
		return SubjectSchema{}, fmt.Errorf("fetch version %d of %s: %w", version, subject, err)
	}
	return decoded.subjectSchema(subject), nil
}

func (r *confluentRegistry) Versions(ctx context.Context, subject string) ([]int, error) {
	ctx, span := r.tracer.Start(ctx, "registry.versions")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject))

	path := "/subjects/" + url.PathEscape(subject) + "/versions"
	var versions []int
	if err := r.send(ctx, http.MethodGet, path, nil, &versions); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list versions of %s: %w", subject, err)
	}
	return versions, nil
}

func (r *confluentRegistry) SchemaByID(ctx context.Context, id int) (Schema, error) {
	ctx, span := r.tracer.Start(ctx, "registry.schema_by_id")
	defer span.End()
	span.SetAttributes(attribute.Int("schema.id", id))

	path := "/schemas/ids/" + strconv.Itoa(id)
	var decoded confluentSchemaResponse
	if err := r.send(ctx, http.MethodGet, path, nil, &decoded); err != nil {
		span.RecordError(err)
		return Schema{}, fmt.Errorf("fetch schema %d: %w", id, err)
	}
	return Schema{Schema: decoded.Schema, Type: decoded.SchemaType, References: decoded.References}, nil
}

func (r *confluentRegistry) Close() error { return nil }

func (r *confluentRegistry) send(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal registry payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create registry request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeSchemaRegistry)
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	} else if r.user != "" {
		httpReq.SetBasicAuth(r.user, r.pass)
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call registry: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}

func (s confluentSchemaResponse) subjectSchema(subject string) SubjectSchema {
	if s.Subject != "" {
		subject = s.Subject
	}
	return SubjectSchema{
		Schema:  Schema{Schema: s.Schema, Type: s.SchemaType, References: s.References},
		Subject: subject,
		ID:      s.ID,
		Version: s.Version,
	}
}
