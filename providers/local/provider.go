// Package local implements a provider for resources on the machine running
// the engine: managed files and script-driven provisioning steps.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/applyr-io/applyr/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Create(ctx context.Context, resourceType string, attrs map[string]any) (*provider.CreateResult, error) {
	switch resourceType {
	case "local_file":
		return p.createFile(attrs)
	case "local_exec":
		return p.runExec(ctx, attrs, "command")
	default:
		return nil, provider.NewPermanent("create", fmt.Errorf("unknown resource type: %s", resourceType))
	}
}

func (p *Provider) Read(ctx context.Context, resourceType, id string) (map[string]any, error) {
	switch resourceType {
	case "local_file":
		content, err := os.ReadFile(id)
		if os.IsNotExist(err) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, provider.NewPermanent("read", err)
		}
		return map[string]any{
			"path":    id,
			"content": string(content),
		}, nil
	case "local_exec":
		// Command executions leave nothing to read back.
		return map[string]any{"id": id}, nil
	default:
		return nil, provider.NewPermanent("read", fmt.Errorf("unknown resource type: %s", resourceType))
	}
}

func (p *Provider) Update(ctx context.Context, resourceType, id string, attrs map[string]any) (map[string]any, error) {
	switch resourceType {
	case "local_file":
		result, err := p.createFile(attrs)
		if err != nil {
			return nil, err
		}
		return result.Outputs, nil
	case "local_exec":
		// Changed attributes re-run the command.
		result, err := p.runExec(ctx, attrs, "command")
		if err != nil {
			return nil, err
		}
		return result.Outputs, nil
	default:
		return nil, provider.NewPermanent("update", fmt.Errorf("unknown resource type: %s", resourceType))
	}
}

func (p *Provider) Delete(ctx context.Context, resourceType, id string) error {
	switch resourceType {
	case "local_file":
		if err := os.Remove(id); err != nil && !os.IsNotExist(err) {
			return provider.NewPermanent("delete", err)
		}
		return nil
	case "local_exec":
		return nil
	default:
		return provider.NewPermanent("delete", fmt.Errorf("unknown resource type: %s", resourceType))
	}
}

func (p *Provider) createFile(attrs map[string]any) (*provider.CreateResult, error) {
	path, _ := attrs["path"].(string)
	if path == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("local_file requires a 'path' attribute"))
	}
	content, _ := attrs["content"].(string)

	mode := os.FileMode(0o644)
	if raw, ok := attrs["mode"].(string); ok && raw != "" {
		var parsed uint32
		if _, err := fmt.Sscanf(raw, "%o", &parsed); err != nil {
			return nil, provider.NewPermanent("create", fmt.Errorf("invalid file mode %q: %w", raw, err))
		}
		mode = os.FileMode(parsed)
	}

	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return nil, provider.NewPermanent("create", err)
	}

	sum := sha256.Sum256([]byte(content))
	return &provider.CreateResult{
		ID: path,
		Outputs: map[string]any{
			"path":     path,
			"checksum": hex.EncodeToString(sum[:]),
		},
	}, nil
}

// runExec runs the configured shell command, capturing stdout as an
// output. A "destroy_command" attribute is ignored here; it only matters
// on deletion and executions are not deletable once run.
func (p *Provider) runExec(ctx context.Context, attrs map[string]any, key string) (*provider.CreateResult, error) {
	command, _ := attrs[key].(string)
	if command == "" {
		return nil, provider.NewPermanent("create", fmt.Errorf("local_exec requires a %q attribute", key))
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = os.Environ()
	if env, ok := attrs["environment"].(map[string]any); ok {
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.NewTransient("exec", fmt.Errorf("command interrupted: %w", ctx.Err()))
		}
		return nil, provider.NewPermanent("exec", fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out))))
	}

	return &provider.CreateResult{
		ID: fmt.Sprintf("exec-%s", uuid.NewString()),
		Outputs: map[string]any{
			"stdout": strings.TrimSpace(string(out)),
		},
	}, nil
}
