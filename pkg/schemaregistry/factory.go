package schemaregistry

import (
	"context"
	"fmt"
	"strings"
)

// NewRegistry creates a registry from config, wrapped in a process-local
// cache. The postgres and confluent backends dial out; local needs nothing.
func NewRegistry(ctx context.Context, cfg Config) (Registry, error) {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	switch typ {
	case "csr", "confluent":
		reg, err := newConfluentRegistry(cfg)
		if err != nil {
			return nil, err
		}
		return newCachedRegistry(reg), nil
	case "apicurio":
		reg, err := newApicurioRegistry(cfg)
		if err != nil {
			return nil, err
		}
		return newCachedRegistry(reg), nil
	case "local", "memory", "mem":
		return newCachedRegistry(NewLocalRegistry()), nil
	case "postgres", "db":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("schema_registry_dsn is required for postgres registry")
		}
		reg, err := newPostgresRegistry(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return newCachedRegistry(reg), nil
	case "":
		return nil, fmt.Errorf("schema registry type, url, or dsn is required")
	default:
		return nil, fmt.Errorf("unsupported schema registry type %q", typ)
	}
}
