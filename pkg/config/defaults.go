package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	pvwireproto "github.com/marmos91/atipioc/internal/protocol/pvwire"
	"github.com/marmos91/atipioc/pkg/atip"
	"github.com/marmos91/atipioc/pkg/catools"
	"github.com/marmos91/atipioc/pkg/startup"
)

// DefaultIOCName names the IOC when the configuration does not.
const DefaultIOCName = "atip"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyIOCDefaults(&cfg.IOC)
	applyRingModeDefaults(&cfg.RingMode)
	applyATIPDefaults(&cfg.ATIP)
	applyCAToolsDefaults(&cfg.CATools)
	applyMirrorDefaults(&cfg.Mirror)
	applyAutosaveDefaults(&cfg.Autosave)
	applyDBFileDefaults(&cfg.DBFile)
	applyAdaptersDefaults(&cfg.Adapters)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyIOCDefaults(cfg *IOCConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultIOCName
	}

	if cfg.Files.Limits == "" {
		cfg.Files.Limits = atip.LimitsFile
	}
	if cfg.Files.Feedback == "" {
		cfg.Files.Feedback = atip.FeedbackFile
	}
	if cfg.Files.Mirrored == "" {
		cfg.Files.Mirrored = atip.MirroredFile
	}
	if cfg.Files.TuneFB == "" {
		cfg.Files.TuneFB = atip.TuneFBFile
	}
}

func applyRingModeDefaults(cfg *RingModeConfig) {
	if cfg.EnvVar == "" {
		cfg.EnvVar = startup.DefaultRingModeEnv
	}
	if cfg.PV == "" {
		cfg.PV = startup.DefaultRingModePV
	}
	if cfg.Default == "" {
		cfg.Default = startup.DefaultRingMode
	}
}

func applyATIPDefaults(cfg *ATIPConfig) {
	// A nil list takes the defaults; an explicit empty list accepts any mode.
	if cfg.RingModes == nil {
		cfg.RingModes = append([]string(nil), atip.DefaultRingModes...)
	}
	if cfg.ModePV == "" {
		cfg.ModePV = atip.DefaultModePV
	}
}

func applyCAToolsDefaults(cfg *catools.Config) {
	if len(cfg.AddrList) == 0 {
		cfg.AddrList = []string{catools.DefaultAddr}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = catools.DefaultTimeout
	}
}

func applyMirrorDefaults(cfg *MirrorConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = atip.DefaultMirrorInterval
	}
}

// applyAutosaveDefaults sets value store defaults.
func applyAutosaveDefaults(cfg *AutosaveConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(os.TempDir(), "atipioc-autosave")
	}
	if _, ok := cfg.Badger["sync_writes"]; !ok {
		cfg.Badger["sync_writes"] = true
	}
}

// applyDBFileDefaults sets database-file sink defaults.
func applyDBFileDefaults(cfg *DBFileConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Retain == 0 {
		cfg.Retain = 20
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(os.TempDir(), "atipioc-dbfiles")
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the pvwire adapter when it looks unconfigured (port 0), so a
	// config loaded without a file still serves its records. Users can set
	// enabled: false explicitly together with a port to disable it.
	if !cfg.PVWire.Enabled && cfg.PVWire.Port == 0 {
		cfg.PVWire.Enabled = true
	}

	applyPVWireDefaults(cfg)
}

// applyPVWireDefaults sets pvwire adapter defaults.
func applyPVWireDefaults(cfg *AdaptersConfig) {
	c := &cfg.PVWire

	if c.Port == 0 {
		c.Port = pvwireproto.DefaultPort
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Autosave: AutosaveConfig{
			// Restoring is what makes autosave useful; the zero value cannot
			// express it, so the default config sets it explicitly.
			Restore: true,
		},
		DBFile: DBFileConfig{
			GCInterval: time.Hour,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
