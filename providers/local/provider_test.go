package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyr-io/applyr/pkg/provider"
)

var _ provider.Provider = (*Provider)(nil)

func TestProvider_FileLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.txt")

	created, err := p.Create(ctx, "local_file", map[string]any{
		"path":    path,
		"content": "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, path, created.ID)
	assert.NotEmpty(t, created.Outputs["checksum"])

	attrs, err := p.Read(ctx, "local_file", path)
	require.NoError(t, err)
	assert.Equal(t, "hello", attrs["content"])

	outputs, err := p.Update(ctx, "local_file", path, map[string]any{
		"path":    path,
		"content": "updated",
	})
	require.NoError(t, err)
	assert.NotEqual(t, created.Outputs["checksum"], outputs["checksum"])

	require.NoError(t, p.Delete(ctx, "local_file", path))
	_, err = p.Read(ctx, "local_file", path)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	// Deleting an already-absent file succeeds.
	require.NoError(t, p.Delete(ctx, "local_file", path))
}

func TestProvider_FileMode(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "script.sh")

	_, err := p.Create(context.Background(), "local_file", map[string]any{
		"path":    path,
		"content": "#!/bin/sh\n",
		"mode":    "0755",
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestProvider_FileRequiresPath(t *testing.T) {
	p := New()
	_, err := p.Create(context.Background(), "local_file", map[string]any{"content": "x"})
	require.Error(t, err)
	assert.False(t, provider.IsTransient(err))
}

func TestProvider_ExecCapturesStdout(t *testing.T) {
	p := New()

	result, err := p.Create(context.Background(), "local_exec", map[string]any{
		"command": "echo provisioned",
	})
	require.NoError(t, err)
	assert.Contains(t, result.ID, "exec-")
	assert.Equal(t, "provisioned", result.Outputs["stdout"])
}

func TestProvider_ExecEnvironment(t *testing.T) {
	p := New()

	result, err := p.Create(context.Background(), "local_exec", map[string]any{
		"command":     "echo $GREETING",
		"environment": map[string]any{"GREETING": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Outputs["stdout"])
}

func TestProvider_ExecFailure(t *testing.T) {
	p := New()

	_, err := p.Create(context.Background(), "local_exec", map[string]any{
		"command": "exit 3",
	})
	require.Error(t, err)
	assert.False(t, provider.IsTransient(err))
}

func TestProvider_UnknownResourceType(t *testing.T) {
	p := New()
	_, err := p.Create(context.Background(), "local_socket", nil)
	require.Error(t, err)
}
