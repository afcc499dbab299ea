package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Local(t *testing.T) {
	store, err := NewStore(context.Background(), &BackendConfig{
		Type:   "local",
		Config: map[string]string{"path": filepath.Join(t.TempDir(), "state.json")},
	})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
}

func TestNewStore_DefaultsToLocal(t *testing.T) {
	store, err := NewStore(context.Background(), &BackendConfig{
		Config: map[string]string{"path": filepath.Join(t.TempDir(), "state.json")},
	})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
}

func TestNewStore_LocalRequiresPath(t *testing.T) {
	_, err := NewStore(context.Background(), &BackendConfig{Type: "local"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestNewStore_S3RequiresBucket(t *testing.T) {
	_, err := NewStore(context.Background(), &BackendConfig{Type: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewStore_UnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), &BackendConfig{Type: "consul"})
	require.Error(t, err)
}

func TestNewStore_NilConfig(t *testing.T) {
	_, err := NewStore(context.Background(), nil)
	require.Error(t, err)
}
