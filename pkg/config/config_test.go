package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sdejongh/fetchferry/pkg/models"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
		{"negative bandwidth", func(c *Config) { c.Download.BandwidthLimit = -1 }, "download.bandwidth_limit"},
		{"negative progress interval", func(c *Config) { c.Download.ProgressInterval = -time.Second }, "download.progress_interval"},
		{"relative remote URL", func(c *Config) { c.Remote.BaseURL = "/api" }, "remote.base_url"},
		{"ftp remote URL", func(c *Config) { c.Remote.BaseURL = "ftp://host" }, "remote.base_url"},
		{"zero remote timeout", func(c *Config) { c.Remote.Timeout = 0 }, "remote.timeout"},
		{"negative cache size", func(c *Config) { c.Remote.CacheSize = -1 }, "remote.cache_size"},
		{"zero history", func(c *Config) { c.Tasks.HistoryLimit = 0 }, "tasks.history_limit"},
		{"negative delay", func(c *Config) { c.Tasks.TransferDelay = -time.Second }, "tasks"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Validate() field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestLoadFromFile_PartialOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  listen: "127.0.0.1:6000"
download:
  bandwidth_limit: 1048576
tasks:
  transfer_delay: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:6000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Download.BandwidthLimit != 1<<20 {
		t.Errorf("BandwidthLimit = %d", cfg.Download.BandwidthLimit)
	}
	if cfg.Tasks.TransferDelay != 2*time.Second {
		t.Errorf("TransferDelay = %s", cfg.Tasks.TransferDelay)
	}
	// untouched sections keep their defaults
	if cfg.Tasks.HistoryLimit != 100 || cfg.Remote.BaseURL != "http://localhost:5000" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("server: [unclosed"), 0644)
	if _, err := LoadFromFile(bad); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	_ = os.WriteFile(invalid, []byte("logging:\n  level: loud\n"), 0644)
	if _, err := LoadFromFile(invalid); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "config.yaml")
	cfg := Default()
	cfg.Server.AllowedOrigins = []string{"chrome-extension://abc"}
	cfg.Download.Directory = "~/Downloads"

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	got, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if len(got.Server.AllowedOrigins) != 1 || got.Server.AllowedOrigins[0] != "chrome-extension://abc" {
		t.Errorf("AllowedOrigins = %v", got.Server.AllowedOrigins)
	}
	if got.Download.Directory != "~/Downloads" {
		t.Errorf("Directory = %q", got.Download.Directory)
	}

	cfg.Logging.Format = "xml"
	if err := SaveToFile(cfg, path); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}

func TestLoadDefault_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.Server.Listen != Default().Server.Listen {
		t.Errorf("expected defaults, got %+v", cfg.Server)
	}
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	cfg.Download.Directory = "~/dl"
	cfg.Store.Path = "~/state/store.json"

	dir, err := cfg.DownloadDir()
	if err != nil || dir != filepath.Join(home, "dl") {
		t.Errorf("DownloadDir() = %q, %v", dir, err)
	}
	path, err := cfg.StorePath()
	if err != nil || path != filepath.Join(home, "state", "store.json") {
		t.Errorf("StorePath() = %q, %v", path, err)
	}
}
