package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalized(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_IOC(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.IOC.Name != "atip" {
		t.Errorf("Expected default ioc name 'atip', got %q", cfg.IOC.Name)
	}
	if cfg.IOC.RunID != "" {
		t.Errorf("Expected empty run id, got %q", cfg.IOC.RunID)
	}
	files := cfg.IOC.Files
	if files.Limits != "limits.csv" || files.Feedback != "feedback.csv" ||
		files.Mirrored != "mirrored.csv" || files.TuneFB != "tunefb.csv" {
		t.Errorf("Unexpected default file names: %+v", files)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{ShutdownTimeout: 5 * time.Second},
		RingMode: RingModeConfig{EnvVar: "MODE", Default: "VMX"},
		Mirror:   MirrorConfig{Interval: 100 * time.Millisecond},
		DBFile:   DBFileConfig{Type: "memory", Retain: 3},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.RingMode.EnvVar != "MODE" || cfg.RingMode.Default != "VMX" {
		t.Errorf("Expected ring mode settings preserved, got %+v", cfg.RingMode)
	}
	if cfg.RingMode.PV != "SR-CS-RING-01:MODE" {
		t.Errorf("Expected default pv filled in, got %q", cfg.RingMode.PV)
	}
	if cfg.Mirror.Interval != 100*time.Millisecond {
		t.Errorf("Expected mirror interval preserved, got %v", cfg.Mirror.Interval)
	}
	if cfg.DBFile.Type != "memory" || cfg.DBFile.Retain != 3 {
		t.Errorf("Expected dbfile settings preserved, got %+v", cfg.DBFile)
	}
}

func TestApplyDefaults_RingModes(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if len(cfg.ATIP.RingModes) != 5 {
		t.Errorf("Expected default ring modes, got %v", cfg.ATIP.RingModes)
	}

	// The defaults are copied, not shared.
	cfg.ATIP.RingModes[0] = "CHANGED"
	other := &Config{}
	ApplyDefaults(other)
	if other.ATIP.RingModes[0] != "DIAD" {
		t.Errorf("Expected defaults unaffected by edits, got %v", other.ATIP.RingModes)
	}

	empty := &Config{ATIP: ATIPConfig{RingModes: []string{}}}
	ApplyDefaults(empty)
	if len(empty.ATIP.RingModes) != 0 {
		t.Errorf("Expected explicit empty list kept, got %v", empty.ATIP.RingModes)
	}
}

func TestApplyDefaults_Stores(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Autosave.Type != "memory" {
		t.Errorf("Expected default autosave type 'memory', got %q", cfg.Autosave.Type)
	}
	if _, ok := cfg.Autosave.Badger["db_path"]; !ok {
		t.Error("Expected default badger db_path")
	}
	if cfg.DBFile.Type != "filesystem" {
		t.Errorf("Expected default dbfile type 'filesystem', got %q", cfg.DBFile.Type)
	}
	if cfg.DBFile.Retain != 20 {
		t.Errorf("Expected default retain 20, got %d", cfg.DBFile.Retain)
	}
	if _, ok := cfg.DBFile.Filesystem["path"]; !ok {
		t.Error("Expected default filesystem path")
	}
	if cfg.DBFile.S3 == nil || cfg.DBFile.Memory == nil {
		t.Error("Expected option maps initialized")
	}
}

func TestApplyDefaults_PVWire(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	pv := cfg.Adapters.PVWire
	if !pv.Enabled {
		t.Error("Expected pvwire enabled when unconfigured")
	}
	if pv.Port != 5064 {
		t.Errorf("Expected default port 5064, got %d", pv.Port)
	}
	if pv.Timeouts.Read != 30*time.Second || pv.Timeouts.Write != 30*time.Second {
		t.Errorf("Unexpected default timeouts: %+v", pv.Timeouts)
	}
	if pv.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Expected default idle timeout 5m, got %v", pv.Timeouts.Idle)
	}
	if pv.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", pv.ShutdownTimeout)
	}
}

func TestApplyDefaults_PVWireExplicitlyDisabled(t *testing.T) {
	cfg := &Config{}
	cfg.Adapters.PVWire.Port = 6000
	ApplyDefaults(cfg)

	if cfg.Adapters.PVWire.Enabled {
		t.Error("Expected pvwire to stay disabled when configured with a port")
	}
}

func TestApplyDefaults_CATools(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if len(cfg.CATools.AddrList) != 1 || cfg.CATools.AddrList[0] != "localhost:5064" {
		t.Errorf("Expected default addr list, got %v", cfg.CATools.AddrList)
	}
	if cfg.CATools.Timeout != 5*time.Second {
		t.Errorf("Expected default timeout 5s, got %v", cfg.CATools.Timeout)
	}
}
