package config

import (
	"net/url"
	"time"

	"github.com/sdejongh/fetchferry/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Download DownloadConfig `yaml:"download"`
	Remote   RemoteConfig   `yaml:"remote"`
	Store    StoreConfig    `yaml:"store"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the local message API listener settings
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins is matched against the Origin header; "*" allows any
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DownloadConfig holds download provider settings
type DownloadConfig struct {
	Directory string `yaml:"directory"` // empty = user download dir
	// Subdirectory groups fetchferry downloads under Directory
	Subdirectory     string        `yaml:"subdirectory"`
	BandwidthLimit   int64         `yaml:"bandwidth_limit"` // bytes per second, 0 = unlimited
	ProgressInterval time.Duration `yaml:"progress_interval"`
	UserAgent        string        `yaml:"user_agent"`
}

// RemoteConfig holds settings for the companion service API
type RemoteConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// CacheSize is the number of server configs kept in memory (0 disables caching)
	CacheSize int `yaml:"cache_size"`
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	Path string `yaml:"path"` // empty = default data dir
}

// TasksConfig holds task manager tuning
type TasksConfig struct {
	HistoryLimit         int           `yaml:"history_limit"`
	FilenameRefreshDelay time.Duration `yaml:"filename_refresh_delay"`
	TransferDelay        time.Duration `yaml:"transfer_delay"`
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Format     string `yaml:"format"` // "json" or "text"
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	File       string `yaml:"file"`   // Log file path (empty = stderr)
	MaxSize    int64  `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:5100",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Download: DownloadConfig{
			Subdirectory:     "fetchferry",
			ProgressInterval: 250 * time.Millisecond,
			UserAgent:        "fetchferry",
		},
		Remote: RemoteConfig{
			BaseURL:   "http://localhost:5000",
			Timeout:   10 * time.Second,
			CacheTTL:  30 * time.Second,
			CacheSize: 64,
		},
		Tasks: TasksConfig{
			HistoryLimit:         100,
			FilenameRefreshDelay: 500 * time.Millisecond,
			TransferDelay:        time.Second,
		},
		Logging: LoggingConfig{
			Format:     "text",
			Level:      "info",
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return &models.ValidationError{Field: "server.listen", Message: "must not be empty"}
	}

	if c.Download.BandwidthLimit < 0 {
		return &models.ValidationError{Field: "download.bandwidth_limit", Message: "must not be negative"}
	}

	if c.Download.ProgressInterval < 0 {
		return &models.ValidationError{Field: "download.progress_interval", Message: "must not be negative"}
	}

	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &models.ValidationError{Field: "remote.base_url", Message: "must be an absolute http(s) URL"}
	}

	if c.Remote.Timeout <= 0 {
		return &models.ValidationError{Field: "remote.timeout", Message: "must be positive"}
	}

	if c.Remote.CacheSize < 0 {
		return &models.ValidationError{Field: "remote.cache_size", Message: "must not be negative"}
	}

	if c.Tasks.HistoryLimit < 1 {
		return &models.ValidationError{Field: "tasks.history_limit", Message: "must be at least 1"}
	}

	if c.Tasks.FilenameRefreshDelay < 0 || c.Tasks.TransferDelay < 0 {
		return &models.ValidationError{Field: "tasks", Message: "delays must not be negative"}
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return &models.ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'text'",
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return &models.ValidationError{
			Field:   "logging.level",
			Message: "must be 'debug', 'info', 'warn', or 'error'",
		}
	}

	return nil
}
