package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	ConfigDir = t.TempDir()
	assert.Equal(t, &Config{}, GetConfig())

	_, err := GetClient()
	assert.Error(t, err)

	cfg := &Config{Username: "alice", Password: "secret", ServerURL: "http://localhost:8080/dav"}
	require.NoError(t, SetConfig(cfg))
	assert.Equal(t, cfg, GetConfig())

	c, err := GetClient()
	require.NoError(t, err)
	assert.NotNil(t, c)
}
