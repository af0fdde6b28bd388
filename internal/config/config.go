// Package config resolves runtime configuration for the migration tools.
// Precedence: built-in defaults, then an optional kioku.yaml, then
// environment variables. The .env file is loaded by the binaries via
// godotenv before this runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ymiyake/kioku/internal/logging"
)

// Config holds embedding and pipeline settings.
type Config struct {
	// ModelName identifies the sentence encoder (cache key, logs).
	ModelName string `yaml:"model_name"`

	// ModelDir holds the local ONNX export (model.onnx + tokenizer.json).
	ModelDir string `yaml:"model_dir"`

	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions"`

	// BatchSize bounds how many documents are embedded per batch.
	BatchSize int `yaml:"batch_size"`

	// OfflineOnly requires model weights to already exist locally and
	// forbids any network fetch. On by default.
	OfflineOnly bool `yaml:"offline_only"`

	// RuntimeLib optionally points at the onnxruntime shared library.
	RuntimeLib string `yaml:"onnxruntime_lib"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ModelName:   "intfloat/multilingual-e5-base",
		ModelDir:    filepath.Join(home, ".kioku", "models", "multilingual-e5-base"),
		Dimensions:  768,
		BatchSize:   32,
		OfflineOnly: true,
	}
}

// Load builds the effective configuration: defaults, overlaid with
// kioku.yaml if present (path overridable via KIOKU_CONFIG), overlaid with
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("KIOKU_CONFIG")
	if path == "" {
		path = "kioku.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		logging.Debug("config", "loaded %s", path)
	}

	cfg.applyEnv()

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	return cfg, nil
}

// applyEnv overlays KIOKU_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("KIOKU_MODEL_NAME"); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv("KIOKU_MODEL_DIR"); v != "" {
		c.ModelDir = v
	}
	if v := os.Getenv("KIOKU_EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dimensions = n
		}
	}
	if v := os.Getenv("KIOKU_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("KIOKU_OFFLINE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.OfflineOnly = b
		}
	}
	if v := os.Getenv("KIOKU_ONNXRUNTIME_LIB"); v != "" {
		c.RuntimeLib = v
	}
}
