package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Declare(t *testing.T) {
	cfg := &Config{}

	res, err := cfg.Declare("network", "main", "docker", map[string]any{"name": "main-net"})
	require.NoError(t, err)
	assert.Equal(t, "network.main", res.Address())

	// Same type, different name is fine.
	_, err = cfg.Declare("network", "other", "docker", nil)
	require.NoError(t, err)

	// Same name, different type is fine.
	_, err = cfg.Declare("volume", "main", "docker", nil)
	require.NoError(t, err)

	// Exact duplicate is rejected.
	_, err = cfg.Declare("network", "main", "docker", nil)
	var dup *DuplicateResourceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "network.main", dup.ID.Address())
	assert.Len(t, cfg.Resources, 3)
}

func TestConfig_Resource(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.Declare("network", "main", "docker", map[string]any{"driver": "bridge"})
	require.NoError(t, err)

	res, err := cfg.Resource("network", "main")
	require.NoError(t, err)
	assert.Equal(t, "docker", res.Provider)

	attrs, err := cfg.AttributesOf("network", "main")
	require.NoError(t, err)
	assert.Equal(t, "bridge", attrs["driver"])

	_, err = cfg.Resource("network", "missing")
	var unknown *UnknownResourceError
	require.ErrorAs(t, err, &unknown)
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{Resources: []*Resource{
		{Type: "network", Name: "main", Provider: "docker"},
		{Type: "service", Name: "main", Provider: "docker"},
	}}
	require.NoError(t, valid.Validate())

	duplicated := &Config{Resources: []*Resource{
		{Type: "network", Name: "main", Provider: "docker"},
		{Type: "network", Name: "main", Provider: "docker"},
	}}
	var dup *DuplicateResourceError
	require.ErrorAs(t, duplicated.Validate(), &dup)

	unnamed := &Config{Resources: []*Resource{{Type: "network", Provider: "docker"}}}
	require.Error(t, unnamed.Validate())
}

func TestParseAddress(t *testing.T) {
	id, ok := ParseAddress("network.main")
	require.True(t, ok)
	assert.Equal(t, Identity{Type: "network", Name: "main"}, id)

	id, ok = ParseAddress("aws.s3.Bucket.assets")
	require.True(t, ok)
	assert.Equal(t, Identity{Type: "aws.s3.Bucket", Name: "assets"}, id)

	_, ok = ParseAddress("nodot")
	assert.False(t, ok)

	_, ok = ParseAddress("trailing.")
	assert.False(t, ok)
}

func TestRecord_Output(t *testing.T) {
	rec := &Record{
		Type:       "database",
		Name:       "main",
		Attributes: map[string]any{"engine": "postgres"},
		Outputs:    map[string]any{"host": "db.internal"},
	}

	v, ok := rec.Output("host")
	require.True(t, ok)
	assert.Equal(t, "db.internal", v)

	// Falls back to the applied attribute snapshot.
	v, ok = rec.Output("engine")
	require.True(t, ok)
	assert.Equal(t, "postgres", v)

	_, ok = rec.Output("missing")
	assert.False(t, ok)
}
