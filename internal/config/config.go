// Package config manages the shop-databaser configuration file and the data
// directory layout. It handles loading, saving, and initializing the configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile   = "config.toml"
	RegistryFile = "registry.db"
	StoresDir    = "stores"
	MetadataFile = "metadata.db"
	LogFile      = "sync.log"
)

// Config represents the application configuration.
type Config struct {
	General GeneralConfig `toml:"general" json:"general"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Queries QueryConfig   `toml:"queries" json:"queries"`
	path    string        // path to the data directory
}

// GeneralConfig controls sync pacing and compaction. Durations are milliseconds.
type GeneralConfig struct {
	NoDataThreshold    int   `toml:"no_data_threshold" json:"no_data_threshold"`
	NoDataDefaultSleep int64 `toml:"no_data_default_sleep" json:"no_data_default_sleep"`
	MinimumDuration    int64 `toml:"minimum_duration" json:"minimum_duration"`
	GCDatapileSize     int   `toml:"gc_datapile_size" json:"gc_datapile_size"`
	SyncFrequency      int64 `toml:"sync_frequency" json:"sync_frequency"`
}

// LoggingConfig controls where per-store sync logs go.
type LoggingConfig struct {
	ReportLogsToConsole bool   `toml:"report_logs_to_console" json:"report_logs_to_console"`
	ReportNetworkLogs   bool   `toml:"report_network_logs" json:"report_network_logs"`
	Level               string `toml:"level" json:"level"`
	Format              string `toml:"format" json:"format"`
}

// QueryConfig controls the query read path.
type QueryConfig struct {
	CacheTTL            int64 `toml:"cache_ttl" json:"cache_ttl"`
	UseCaching          bool  `toml:"use_caching" json:"use_caching"`
	AutomaticResultView bool  `toml:"automatic_result_view" json:"automatic_result_view"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			NoDataThreshold:    6,
			NoDataDefaultSleep: 5000,
			MinimumDuration:    2000,
			GCDatapileSize:     500,
			SyncFrequency:      259200000,
		},
		Logging: LoggingConfig{
			ReportLogsToConsole: true,
			ReportNetworkLogs:   false,
			Level:               "info",
			Format:              "text",
		},
		Queries: QueryConfig{
			CacheTTL:            300000,
			UseCaching:          true,
			AutomaticResultView: false,
		},
	}
}

// Load reads the configuration from dataDir. A missing file yields Default().
func Load(dataDir string) (*Config, error) {
	cfg := Default()
	cfg.path = dataDir

	data, err := os.ReadFile(filepath.Join(dataDir, ConfigFile))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = dataDir
	return cfg, nil
}

// Initialize creates the data directory and writes the default config if none exists.
func Initialize(dataDir string) (*Config, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, StoresDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := Load(dataDir)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ConfigPath()); os.IsNotExist(err) {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(c.path, ".config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, c.ConfigPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Clone returns a copy bound to the same data directory.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// Equal reports whether both configurations hold the same options.
func (c *Config) Equal(other *Config) bool {
	if other == nil {
		return false
	}
	return c.General == other.General && c.Logging == other.Logging && c.Queries == other.Queries
}

// DataDir returns the data directory the config belongs to.
func (c *Config) DataDir() string {
	return c.path
}

// ConfigPath returns the path to the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.path, ConfigFile)
}

// RegistryPath returns the path to the store registry database.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.path, RegistryFile)
}

// StoreDir returns the directory holding one store's index, chunks, metadata, and log.
func (c *Config) StoreDir(uuid string) string {
	return filepath.Join(c.path, StoresDir, uuid)
}

// MinimumDuration is the floor under one orchestrator loop iteration.
func (c *Config) MinimumDuration() time.Duration {
	return time.Duration(c.General.MinimumDuration) * time.Millisecond
}

// NoDataDefaultSleep is the first backoff applied when a cycle returns little data.
func (c *Config) NoDataDefaultSleep() time.Duration {
	return time.Duration(c.General.NoDataDefaultSleep) * time.Millisecond
}

// SyncFrequency is the interval between full historical passes.
func (c *Config) SyncFrequency() time.Duration {
	return time.Duration(c.General.SyncFrequency) * time.Millisecond
}

// CacheTTL is how long a query read stays cached after its last access.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Queries.CacheTTL) * time.Millisecond
}
