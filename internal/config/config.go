// Package config reads and writes backhaul's TOML configuration: the global
// config file plus one small config per registered target.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for backhaul.
type Config struct {
	BaseDir string        `toml:"base_dir"`
	LogDir  string        `toml:"log_dir"`
	Remote  RemoteConfig  `toml:"remote"`
	Catalog CatalogConfig `toml:"catalog"`
	Sync    SyncConfig    `toml:"sync"`
}

// RemoteConfig configures the off-site object store.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "s3", "filesystem", or "memory"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // custom endpoint (MinIO etc.); enables path-style addressing
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// S3SSE names the server-side encryption algorithm (e.g. "AES256").
	// Content encryption is the store's job; backhaul never encrypts
	// artifacts itself.
	S3SSE string `toml:"s3_sse,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// CatalogConfig configures the version catalog database.
type CatalogConfig struct {
	// Path is the SQLite database file; defaults to <base_dir>/catalog.db.
	Path string `toml:"path,omitempty"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	// Parallelism bounds concurrent pushes to the remote. Values below 1
	// mean 1.
	Parallelism int `toml:"parallelism"`
}

// TargetConfig is the per-target configuration stored in the target's
// working directory at registration time.
type TargetConfig struct {
	Kind                string   `toml:"kind"` // "archive" or "incremental-delta"
	DestinationPath     string   `toml:"destination_path"`
	MaxIncrementalCount int      `toml:"max_incremental_count"`
	MaxIncrementalSpan  duration `toml:"max_incremental_span"`
	Excludes            []string `toml:"excludes,omitempty"`
}

// MaxSpan returns the configured incremental span as a time.Duration.
func (t *TargetConfig) MaxSpan() time.Duration { return time.Duration(t.MaxIncrementalSpan) }

// SetMaxSpan sets the incremental span.
func (t *TargetConfig) SetMaxSpan(d time.Duration) { t.MaxIncrementalSpan = duration(d) }

// duration lets TOML carry durations as strings like "24h".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// NewConfig creates a Config with the provided base directory and sane
// defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Remote:  RemoteConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "remote")},
		Catalog: CatalogConfig{Path: filepath.Join(baseDir, "catalog.db")},
		Sync:    SyncConfig{Parallelism: 4},
	}
}

// DefaultTargetConfig returns the registration defaults for a target kind.
func DefaultTargetConfig(kind, destinationPath string) *TargetConfig {
	cfg := &TargetConfig{Kind: kind, DestinationPath: destinationPath}
	if kind == "incremental-delta" {
		cfg.MaxIncrementalCount = 10
		cfg.SetMaxSpan(24 * time.Hour)
	}
	return cfg
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// ReadTargetFile reads a TargetConfig from the specified file path.
func ReadTargetFile(path string) (*TargetConfig, error) {
	var cfg TargetConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading target config from %s: %w", path, err)
	}
	return &cfg, nil
}

// WriteTargetFile writes a TargetConfig to the specified file path.
func WriteTargetFile(path string, cfg *TargetConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating target config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing target config to %s: %w", path, err)
	}
	return nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
