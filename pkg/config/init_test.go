package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func useTempConfigHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
}

func TestInitConfig_Success(t *testing.T) {
	useTempConfigHome(t)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# atipioc Configuration File",
		"logging:",
		"ioc:",
		"ring_mode:",
		"catools:",
		"autosave:",
		"dbfile:",
		"adapters:",
	}
	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	useTempConfigHome(t)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error without force")
	}
	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}

func TestInitConfigToPath_CreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "a", "b", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestGenerateYAMLWithComments_ValidConfig(t *testing.T) {
	out, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"# Ring-mode resolution",
		"env_var: RINGMODE",
		"pv: SR-CS-RING-01:MODE",
		"default: DIAD",
		"- VMXSP",
		"port: 5064",
		"interval: 1s",
		"shutdown_timeout: 30s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Generated YAML missing %q", want)
		}
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("Failed to generate config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected INFO log level in generated config, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.PVWire.Port != 5064 {
		t.Errorf("Expected port 5064 in generated config, got %d", cfg.Adapters.PVWire.Port)
	}
	if cfg.Adapters.PVWire.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Expected idle timeout 5m in generated config, got %v", cfg.Adapters.PVWire.Timeouts.Idle)
	}
	if !cfg.Autosave.Restore {
		t.Error("Expected restore enabled in generated config")
	}
	if cfg.DBFile.GCInterval != time.Hour {
		t.Errorf("Expected gc interval 1h in generated config, got %v", cfg.DBFile.GCInterval)
	}
	if len(cfg.ATIP.RingModes) != 5 {
		t.Errorf("Expected 5 ring modes in generated config, got %v", cfg.ATIP.RingModes)
	}
	if _, ok := cfg.DBFile.Filesystem["path"]; !ok {
		t.Error("Expected filesystem path in generated config")
	}
}
