// Package config loads the tunables shared by the streamio command-line
// tools: chunk size, soft limit, log level. Values come from an optional
// JSON file with environment-variable overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FileName is the config file looked up by Discover.
const FileName = "streamio.json"

// Config holds the stream tunables.
type Config struct {
	// ChunkSize is the read quantum in bytes.
	ChunkSize int `json:"chunkSize,omitempty"`
	// SoftLimit is the write-buffer backpressure threshold in bytes.
	SoftLimit int `json:"softLimit,omitempty"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"logLevel,omitempty"`
	// Compress enables the snappy transform in tools that support it.
	Compress bool `json:"compress,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ChunkSize: 64 * 1024,
		SoftLimit: 64 * 1024,
		LogLevel:  "info",
	}
}

// Load reads path, fills unset fields with defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover walks up from dir looking for FileName, loading the first match
// or the defaults when none exists.
func Discover(dir string) (*Config, error) {
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(dir)
		if err == nil {
			dir = abs
		}
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Load(filepath.Join(dir, FileName))
}

// applyEnv overrides fields from STREAMIO_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("STREAMIO_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChunkSize = n
		}
	}
	if v := os.Getenv("STREAMIO_SOFT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SoftLimit = n
		}
	}
	if v := os.Getenv("STREAMIO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.SoftLimit <= 0 {
		return fmt.Errorf("config: softLimit must be positive, got %d", c.SoftLimit)
	}
	return nil
}
