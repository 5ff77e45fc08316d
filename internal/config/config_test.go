package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"WEBTERM_URL", "WEBTERM_STATE_DIR", "WEBTERM_DEBUGGER_URL", "WEBTERM_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.URL != "http://127.0.0.1:7681" {
		t.Errorf("expected default server url, got %s", cfg.Server.URL)
	}
	if cfg.GetLoadTimeout() != 5*time.Second {
		t.Errorf("expected 5s load timeout, got %v", cfg.GetLoadTimeout())
	}
	if cfg.Identity.Alias != "ttyd" {
		t.Errorf("expected alias ttyd, got %s", cfg.Identity.Alias)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.URL = "https://localhost:9000"
	cfg.Storage.Backend = "memory"
	cfg.Logging.Categories = map[string]bool{"surface": false}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Server.URL != "https://localhost:9000" {
		t.Errorf("expected saved url, got %s", loaded.Server.URL)
	}
	if loaded.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", loaded.Storage.Backend)
	}
	if loaded.Logging.IsCategoryEnabled("surface") {
		t.Error("expected surface category disabled")
	}
	if !loaded.Logging.IsCategoryEnabled("session") {
		t.Error("expected unlisted category enabled")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("expected defaults, got %s", cfg.Server.URL)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  url: http://127.0.0.1:8000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "http://127.0.0.1:8000" {
		t.Errorf("expected file url, got %s", cfg.Server.URL)
	}
	if cfg.Identity.Alias != "ttyd" {
		t.Errorf("expected default alias to survive, got %q", cfg.Identity.Alias)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("WEBTERM_URL", "http://localhost:7777")
	t.Setenv("WEBTERM_STATE_DIR", "/tmp/webterm-state")
	t.Setenv("WEBTERM_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
	t.Setenv("WEBTERM_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Server.URL != "http://localhost:7777" {
		t.Errorf("expected env url, got %s", cfg.Server.URL)
	}
	if cfg.Storage.StateDir != "/tmp/webterm-state" {
		t.Errorf("expected env state dir, got %s", cfg.Storage.StateDir)
	}
	if cfg.Browser.DebuggerURL == "" {
		t.Error("expected debugger url from env")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/tmp/webterm-state", "config.yaml") {
		t.Errorf("DefaultConfigPath=%q", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"remote url", func(c *Config) { c.Server.URL = "https://example.com" }},
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://127.0.0.1" }},
		{"bad timeout", func(c *Config) { c.Server.LoadTimeout = "soon" }},
		{"negative timeout", func(c *Config) { c.Server.LoadTimeout = "-1s" }},
		{"empty alias", func(c *Config) { c.Identity.Alias = "" }},
		{"empty state dir", func(c *Config) { c.Storage.StateDir = "" }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"zero tabs", func(c *Config) { c.Browser.Tabs = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.StateDir = "/var/lib/webterm"

	if got := cfg.KeystorePath(); got != "/var/lib/webterm/keystore.db" {
		t.Errorf("KeystorePath=%q", got)
	}
	if got := cfg.CertificateExportPath(); got != "/var/lib/webterm/ca.crt" {
		t.Errorf("CertificateExportPath=%q", got)
	}
	cfg.Identity.ExportPath = "/sdcard/ca.crt"
	if got := cfg.CertificateExportPath(); got != "/sdcard/ca.crt" {
		t.Errorf("absolute export path should be kept, got %q", got)
	}
	if cfg.LogDir() != "" {
		t.Errorf("expected stderr logging by default, got %q", cfg.LogDir())
	}

	cfg.Server.LoadTimeout = "garbage"
	if cfg.GetLoadTimeout() != 5*time.Second {
		t.Error("GetLoadTimeout should fall back to 5s")
	}
	cfg.Identity.Validity = ""
	if cfg.GetValidity() != 10*365*24*time.Hour {
		t.Error("GetValidity should fall back to ten years")
	}
	if cfg.Browser.GetSlowLoadThreshold() != 2*time.Second {
		t.Error("GetSlowLoadThreshold should default to 2s")
	}

	opts := cfg.LoggingOptions()
	if opts.JSON || opts.Level != "info" {
		t.Errorf("unexpected logging options %+v", opts)
	}
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Categories = map[string]bool{"trust": true}
	cfg.Browser.Flags = []string{"no-sandbox"}

	clone := cfg.Clone()
	clone.Logging.Categories["trust"] = false
	clone.Browser.Flags[0] = "changed"

	if !cfg.Logging.Categories["trust"] || cfg.Browser.Flags[0] != "no-sandbox" {
		t.Error("Clone shares state with the original")
	}
}
