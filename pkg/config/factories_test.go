package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/atipioc/pkg/record"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
)

func TestCreateValueStore_None(t *testing.T) {
	store, err := CreateValueStore(context.Background(), &AutosaveConfig{Type: "none"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if store != nil {
		t.Error("Expected nil store when autosave is disabled")
	}
}

func TestCreateValueStore_Memory(t *testing.T) {
	ctx := context.Background()
	store, err := CreateValueStore(ctx, &AutosaveConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("Failed to create memory value store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Save(ctx, "atip", "SR:X", record.Double(1.5)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved, err := store.Load(ctx, "atip")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v := saved["SR:X"]; v.Kind != record.KindDouble || v.Double != 1.5 {
		t.Errorf("Expected saved value, got %v", saved)
	}
}

func TestCreateValueStore_Badger(t *testing.T) {
	ctx := context.Background()
	cfg := &AutosaveConfig{
		Type: "badger",
		Badger: map[string]any{
			"db_path":     filepath.Join(t.TempDir(), "autosave"),
			"sync_writes": true,
		},
	}

	store, err := CreateValueStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create badger value store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateValueStore_BadgerMissingPath(t *testing.T) {
	cfg := &AutosaveConfig{Type: "badger", Badger: map[string]any{}}

	_, err := CreateValueStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateValueStore_UnknownType(t *testing.T) {
	_, err := CreateValueStore(context.Background(), &AutosaveConfig{Type: "postgres"})
	if err == nil {
		t.Fatal("Expected error for unknown store type")
	}
	if !strings.Contains(err.Error(), "unknown autosave store type") {
		t.Errorf("Expected 'unknown autosave store type' error, got: %v", err)
	}
}

func TestCreateDBFileSink_Filesystem(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &DBFileConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": dir},
	}

	sink, err := CreateDBFileSink(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	key := dbfile.Key("atip", "run-1")
	if err := sink.Write(ctx, key, []byte("record(ao, \"X\")\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := sink.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(string(data), "record(ao") {
		t.Errorf("Unexpected content: %q", data)
	}
}

func TestCreateDBFileSink_FilesystemMissingPath(t *testing.T) {
	cfg := &DBFileConfig{Type: "filesystem", Filesystem: map[string]any{}}

	_, err := CreateDBFileSink(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateDBFileSink_MemoryAndNone(t *testing.T) {
	ctx := context.Background()

	sink, err := CreateDBFileSink(ctx, &DBFileConfig{Type: "memory"})
	if err != nil || sink == nil {
		t.Fatalf("Expected memory sink, got %v, %v", sink, err)
	}

	sink, err = CreateDBFileSink(ctx, &DBFileConfig{Type: "none"})
	if err != nil || sink != nil {
		t.Fatalf("Expected nil sink for none, got %v, %v", sink, err)
	}
}

func TestCreateDBFileSink_S3RequiresBucketAndRegion(t *testing.T) {
	ctx := context.Background()

	_, err := CreateDBFileSink(ctx, &DBFileConfig{Type: "s3", S3: map[string]any{"region": "eu-west-2"}})
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}

	_, err = CreateDBFileSink(ctx, &DBFileConfig{Type: "s3", S3: map[string]any{"bucket": "dbfiles"}})
	if err == nil || !strings.Contains(err.Error(), "region is required") {
		t.Errorf("Expected 'region is required' error, got: %v", err)
	}
}

func TestCreateDBFileSink_S3(t *testing.T) {
	// Building the client does not contact the endpoint.
	cfg := &DBFileConfig{
		Type: "s3",
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            "dbfiles",
			"key_prefix":        "iocs",
			"endpoint":          "http://localhost:4566",
			"access_key_id":     "test",
			"secret_access_key": "test",
		},
	}

	sink, err := CreateDBFileSink(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create S3 sink: %v", err)
	}
	if sink == nil {
		t.Fatal("Expected non-nil sink")
	}
}

func TestCreateDBFileSink_UnknownType(t *testing.T) {
	_, err := CreateDBFileSink(context.Background(), &DBFileConfig{Type: "ftp"})
	if err == nil {
		t.Fatal("Expected error for unknown sink type")
	}
	if !strings.Contains(err.Error(), "unknown dbfile sink type") {
		t.Errorf("Expected 'unknown dbfile sink type' error, got: %v", err)
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()

	adapters, err := CreateAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("CreateAdapters failed: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Protocol() != "pvwire" {
		t.Fatalf("Expected one pvwire adapter, got %v", adapters)
	}

	cfg.Adapters.PVWire.Enabled = false
	if _, err := CreateAdapters(cfg, nil); err == nil {
		t.Error("Expected error with no adapters enabled")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	m := InitializeMetrics(cfg, nil)
	if m.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if m.PVWire == nil || m.Startup == nil || m.Mirror == nil {
		t.Error("Expected no-op metrics, got nil")
	}
}
