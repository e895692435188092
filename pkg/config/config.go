package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/atipioc/pkg/adapter/pvwire"
	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/gc"
	"github.com/spf13/viper"
)

// Config represents the complete atipioc configuration.
//
// This structure captures all configurable aspects of the IOC including:
//   - Logging configuration
//   - How the ring mode is discovered and which modes are accepted
//   - Where the CSV configuration files live
//   - The live-read client used for mode discovery and mirroring
//   - Autosave and database-file stores (store-specific)
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (ATIPIOC_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type and the
// Config struct contains type-specific sections (e.g. autosave.badger,
// dbfile.s3); only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// IOC names this IOC and locates its CSV files
	IOC IOCConfig `mapstructure:"ioc"`

	// RingMode controls the ring-mode fallback chain
	RingMode RingModeConfig `mapstructure:"ring_mode"`

	// ATIP configures the PV-serving component
	ATIP ATIPConfig `mapstructure:"atip"`

	// CATools configures the live-read client
	CATools catools.Config `mapstructure:"catools"`

	// Mirror configures mirrored-PV monitoring
	Mirror MirrorConfig `mapstructure:"mirror"`

	// Autosave selects where written output values are persisted
	Autosave AutosaveConfig `mapstructure:"autosave"`

	// DBFile selects where the rendered .db file of each run is stored
	DBFile DBFileConfig `mapstructure:"dbfile"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// IOCConfig identifies the IOC and its configuration files.
type IOCConfig struct {
	// Name scopes autosaved values and database files. It becomes a path
	// segment, so it may not contain separators.
	Name string `mapstructure:"name" validate:"required,excludesall=/\\:"`

	// RunID names this run's database file. Empty generates a UUID.
	RunID string `mapstructure:"run_id" validate:"omitempty,excludesall=/\\"`

	// ConfigDir holds the CSV files. Empty means the directory of the
	// running executable.
	ConfigDir string `mapstructure:"config_dir"`

	// Files are the CSV file names. Relative names are joined onto ConfigDir.
	Files atip.ConfigPaths `mapstructure:"files"`
}

// RingModeConfig configures the ring-mode fallback chain.
type RingModeConfig struct {
	// EnvVar is the environment variable consulted after the CLI argument
	EnvVar string `mapstructure:"env_var" validate:"required"`

	// PV is read from a running peer when neither argument nor variable is set
	PV string `mapstructure:"pv" validate:"required"`

	// Default is used when the live read finds no data
	Default string `mapstructure:"default" validate:"required"`

	// SkipLive drops the live PV read from the chain
	SkipLive bool `mapstructure:"skip_live"`
}

// ATIPConfig configures the PV-serving component.
type ATIPConfig struct {
	// RingModes lists the accepted ring modes and labels the mode PV.
	// Empty accepts any non-empty mode.
	RingModes []string `mapstructure:"ring_modes" validate:"dive,required"`

	// ModePV is the record publishing the ring mode
	ModePV string `mapstructure:"mode_pv" validate:"required"`
}

// MirrorConfig configures mirrored-PV monitoring.
type MirrorConfig struct {
	// Interval between two mirror updates
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0"`
}

// AutosaveConfig specifies value store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type AutosaveConfig struct {
	// Type specifies which value store implementation to use
	// Valid values: none, memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=none memory badger"`

	// Restore writes saved values back into records when the database loads
	Restore bool `mapstructure:"restore"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// DBFileConfig specifies database-file sink configuration.
//
// The Type field determines which sink implementation is used.
// Only the corresponding type-specific configuration section is used.
type DBFileConfig struct {
	// Type specifies which sink implementation to use
	// Valid values: none, filesystem, memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=none filesystem memory s3"`

	// Retain is how many database files of this IOC are kept
	Retain int `mapstructure:"retain" validate:"gte=0"`

	// GCInterval is the period of the retention collector. 0 disables the
	// periodic run; old files are still pruned once at startup.
	GCInterval time.Duration `mapstructure:"gc_interval" validate:"gte=0"`

	// MaxAge deletes files older than this regardless of Retain. 0 disables.
	MaxAge time.Duration `mapstructure:"max_age" validate:"gte=0"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// PVWire contains pvwire protocol configuration.
	// Uses the pvwire.Config type directly to avoid duplication.
	PVWire pvwire.Config `mapstructure:"pvwire"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the HTTP server exposing /metrics and /healthz
	Enabled bool `mapstructure:"enabled"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// Paths resolves the CSV file locations.
//
// Relative file names are joined onto ConfigDir, or onto the installation
// directory when ConfigDir is empty. Empty names stay empty and are
// skipped by the PV server.
func (c *IOCConfig) Paths() (atip.ConfigPaths, error) {
	dir := c.ConfigDir
	if dir == "" {
		d, err := atip.InstallDir()
		if err != nil {
			return atip.ConfigPaths{}, err
		}
		dir = d
	}

	join := func(name string) string {
		if name == "" || filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(dir, name)
	}

	return atip.ConfigPaths{
		Limits:   join(c.Files.Limits),
		Feedback: join(c.Files.Feedback),
		Mirrored: join(c.Files.Mirrored),
		TuneFB:   join(c.Files.TuneFB),
	}, nil
}

// GCConfig maps the retention settings onto the collector configuration.
func (c *DBFileConfig) GCConfig() gc.Config {
	return gc.Config{
		Enabled:  c.GCInterval > 0,
		Interval: c.GCInterval,
		Retain:   c.Retain,
		MaxAge:   c.MaxAge,
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ATIPIOC_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are bound explicitly so that AutomaticEnv overrides also apply
// to keys absent from the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"ioc.name",
	"ioc.run_id",
	"ioc.config_dir",
	"ring_mode.env_var",
	"ring_mode.pv",
	"ring_mode.default",
	"ring_mode.skip_live",
	"atip.mode_pv",
	"catools.addr_list",
	"catools.timeout",
	"mirror.interval",
	"autosave.type",
	"autosave.restore",
	"dbfile.type",
	"dbfile.retain",
	"dbfile.gc_interval",
	"adapters.pvwire.enabled",
	"adapters.pvwire.port",
	"metrics.enabled",
	"metrics.port",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the ATIPIOC_ prefix and underscores
	// Example: ATIPIOC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("ATIPIOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/atipioc/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "atipioc")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "atipioc")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
