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
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"database_url": "postgres://localhost/scope",
		"api_key": "key-123",
		"storage_backend": "gcs",
		"storage_bucket": "scope-artifacts",
		"workers": 4,
		"verbose": true
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/scope", cfg.DatabaseURL)
	assert.Equal(t, "key-123", cfg.APIKey)
	assert.Equal(t, BackendGCS, cfg.StorageBackend)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Verbose)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadBadJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvFillsEmptyFields(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/scope")
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/scope", cfg.DatabaseURL)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestFileWinsOverEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	path := writeConfig(t, `{"database_url": "postgres://x", "api_key": "file-key"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing database", Config{APIKey: "k"}},
		{"missing api key", Config{DatabaseURL: "postgres://x"}},
		{"negative workers", Config{DatabaseURL: "postgres://x", APIKey: "k", Workers: -1}},
		{"gcs without bucket", Config{DatabaseURL: "postgres://x", APIKey: "k", StorageBackend: BackendGCS}},
		{"unknown backend", Config{DatabaseURL: "postgres://x", APIKey: "k", StorageBackend: "tape"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestLocalStorageRootDefault(t *testing.T) {
	cfg := &Config{}
	assert.NotEmpty(t, cfg.LocalStorageRoot())

	cfg.StorageRoot = "/data/artifacts"
	assert.Equal(t, "/data/artifacts", cfg.LocalStorageRoot())
}
