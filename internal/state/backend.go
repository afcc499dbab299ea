package state

import (
	"context"
	"fmt"
)

// BackendConfig selects and configures a state storage backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// NewStore creates a state store from backend configuration. Local is the
// default; its "path" entry names the state file.
func NewStore(ctx context.Context, cfg *BackendConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewLocalStore(path), nil
	case "s3":
		return newS3Store(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
