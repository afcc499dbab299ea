package null

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyr-io/applyr/pkg/provider"
)

var _ provider.Provider = (*Provider)(nil)

func TestProvider_Create(t *testing.T) {
	p := New()
	ctx := context.Background()

	result, err := p.Create(ctx, "null_resource", map[string]any{
		"triggers": map[string]any{"a": "b"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Contains(t, result.ID, "null-")
	assert.Equal(t, result.ID, result.Outputs["id"])
	assert.Equal(t, map[string]any{"a": "b"}, result.Outputs["triggers"])
}

func TestProvider_CreateAssignsUniqueIDs(t *testing.T) {
	p := New()
	ctx := context.Background()

	first, err := p.Create(ctx, "null_resource", nil)
	require.NoError(t, err)
	second, err := p.Create(ctx, "null_resource", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestProvider_ReadUnknownID(t *testing.T) {
	p := New()
	_, err := p.Read(context.Background(), "null_resource", "null-missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestProvider_UpdateUnknownID(t *testing.T) {
	p := New()
	_, err := p.Update(context.Background(), "null_resource", "null-missing", nil)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}
