package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castellan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "castellan", cfg.Name)
	assert.Equal(t, "localhost:9999", cfg.Bind.Native)
	assert.Equal(t, "localhost:9990", cfg.Bind.HTTP)
	assert.Equal(t, "memory", cfg.Persistence.Backend)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
name: domain-a
bind:
  native: 0.0.0.0:19999
persistence:
  backend: redis
  redis:
    address: localhost:6379
    db: 2
domain:
  endpoint: dc.example.com:9999
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "domain-a", cfg.Name)
	assert.Equal(t, "0.0.0.0:19999", cfg.Bind.Native)
	// Unset keys keep their defaults.
	assert.Equal(t, "localhost:9990", cfg.Bind.HTTP)
	assert.Equal(t, "redis", cfg.Persistence.Backend)
	assert.Equal(t, "localhost:6379", cfg.Persistence.Redis.Address)
	assert.Equal(t, 2, cfg.Persistence.Redis.DB)
	assert.Equal(t, "dc.example.com:9999", cfg.Domain.Endpoint)
}

func TestLoad_UnknownKeysFail(t *testing.T) {
	path := writeConfig(t, "no_such_option: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
