// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or env vars.
type Config struct {
	// Services
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key

	// Storage
	StorageBackend string `json:"storage_backend,omitempty"` // "local" or "gcs"
	StorageBucket  string `json:"storage_bucket,omitempty"`  // GCS bucket name
	StorageRoot    string `json:"storage_root,omitempty"`    // Root dir for the local backend

	// Research
	SearchAPIKey string `json:"search_api_key,omitempty"` // Google Custom Search API key
	SearchCX     string `json:"search_cx,omitempty"`      // Custom Search engine id

	// Execution
	Workers  int    `json:"workers,omitempty"`   // Worker pool size
	WorkRoot string `json:"work_root,omitempty"` // Parent dir for per-run scratch dirs

	// Behavior
	Verbose bool `json:"verbose,omitempty"` // Print detailed debug information
}

// Storage backend names accepted in config.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// applyEnv maps environment variables onto config fields that are still
// empty after the file load.
func (c *Config) applyEnv() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.SearchAPIKey == "" {
		c.SearchAPIKey = os.Getenv("SEARCH_API_KEY")
	}
	if c.SearchCX == "" {
		c.SearchCX = os.Getenv("SEARCH_CX")
	}
	if c.StorageBucket == "" {
		c.StorageBucket = os.Getenv("STORAGE_BUCKET")
	}
}

// Load reads configuration from an optional JSON file, then fills empty
// fields from environment variables. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if !filepath.IsAbs(path) {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get current directory: %w", err)
			}
			path = filepath.Join(cwd, path)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Validate checks that the configuration has usable values. Required fields
// are checked here rather than at flag parsing so config-file-only setups
// get the same errors.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config error: database_url is required (or set DATABASE_URL)")
	}
	if c.APIKey == "" {
		return fmt.Errorf("config error: api_key is required (or set GEMINI_API_KEY)")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: workers must be non-negative")
	}
	switch c.StorageBackend {
	case "", BackendLocal:
		// Local backend falls back to a default root when unset.
	case BackendGCS:
		if c.StorageBucket == "" {
			return fmt.Errorf("config error: storage_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config error: unknown storage_backend %q", c.StorageBackend)
	}
	return nil
}

// LocalStorageRoot returns the root directory for the local storage backend.
func (c *Config) LocalStorageRoot() string {
	if c.StorageRoot != "" {
		return c.StorageRoot
	}
	return filepath.Join(os.TempDir(), "scope-storage")
}
