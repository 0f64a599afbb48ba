package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.toml"))
	if err == nil {
		_ = cfg // viper may not error on a missing explicit path in all versions
	}
}

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
bind_address = "127.0.0.1:9090"
log_level = "debug"
data_dir = "` + dir + `"

[vault]
master_key_ref = "env:TEST_MASTER_KEY"

[store]
path = "` + filepath.Join(dir, "deepmark.db") + `"
retention_days = 30
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.BindAddress != "127.0.0.1:9090" {
		t.Errorf("BindAddress: got %q, want %q", cfg.Server.BindAddress, "127.0.0.1:9090")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Vault.MasterKeyRef != "env:TEST_MASTER_KEY" {
		t.Errorf("MasterKeyRef: got %q, want %q", cfg.Vault.MasterKeyRef, "env:TEST_MASTER_KEY")
	}
	if cfg.Store.RetentionDays != 30 {
		t.Errorf("RetentionDays: got %d, want 30", cfg.Store.RetentionDays)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
bind_address = "127.0.0.1:7677"
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("DEEPMARK_SERVER_BIND_ADDRESS", "127.0.0.1:8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.BindAddress != "127.0.0.1:8888" {
		t.Errorf("BindAddress with env override: got %q, want %q", cfg.Server.BindAddress, "127.0.0.1:8888")
	}
}

func TestLoad_ValidationFailure_BadLogLevel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
bind_address = "127.0.0.1:7677"
log_level = "not-a-level"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestLoad_ValidationFailure_ZeroWarningBound(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
bind_address = "127.0.0.1:7677"
log_level = "info"
data_dir = "` + dir + `"

[security]
warning_bound = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for warning_bound 0")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.BindAddress != DefaultBindAddress {
		t.Errorf("BindAddress: got %q, want %q", cfg.Server.BindAddress, DefaultBindAddress)
	}
	if cfg.Resilience.RetryMaxAttempts != DefaultRetryMaxAttempts {
		t.Errorf("RetryMaxAttempts: got %d, want %d", cfg.Resilience.RetryMaxAttempts, DefaultRetryMaxAttempts)
	}
	if cfg.Security.WarningBound != DefaultWarningBound {
		t.Errorf("WarningBound: got %d, want %d", cfg.Security.WarningBound, DefaultWarningBound)
	}
	if cfg.Fingerprint.FrameStride != DefaultFingerprintStride {
		t.Errorf("FrameStride: got %d, want %d", cfg.Fingerprint.FrameStride, DefaultFingerprintStride)
	}
}

func TestResilienceConfig_RetryBaseDelay(t *testing.T) {
	tests := []struct {
		ms      int
		wantSec float64
	}{
		{0, 0.1},  // default
		{-1, 0.1}, // negative defaults
		{500, 0.5},
	}

	for _, tt := range tests {
		r := ResilienceConfig{RetryBaseDelayMs: tt.ms}
		got := r.RetryBaseDelay().Seconds()
		if got != tt.wantSec {
			t.Errorf("RetryBaseDelay(%d): got %v, want %vs", tt.ms, got, tt.wantSec)
		}
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
bind_address = "127.0.0.1:9999"
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.BindAddress != "127.0.0.1:9999" {
		t.Errorf("BindAddress after import: got %q, want %q", cfg.Server.BindAddress, "127.0.0.1:9999")
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}
