package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yoanbernabeu/indexsync/internal/fileutil"
)

const (
	ConfigDirName  = "indexsync"
	ConfigFileName = "config.yaml"

	// The three unified indexes. Many sources share one index and are told
	// apart by a routing metadata field.
	IndexCodebase      = "codebase"
	IndexCodex         = "codex"
	IndexConversations = "conversations"
)

type Config struct {
	Version int           `yaml:"version"`
	Index   IndexConfig   `yaml:"index"`
	Watch   WatchConfig   `yaml:"watch"`
	Sources SourcesConfig `yaml:"sources"`
	Ignore  []string      `yaml:"ignore"`
}

type IndexConfig struct {
	Backend        string         `yaml:"backend"` // marqo | postgres | memory
	Marqo          MarqoConfig    `yaml:"marqo,omitempty"`
	Postgres       PostgresConfig `yaml:"postgres,omitempty"`
	Workers        int            `yaml:"workers"`
	MaxAttempts    int            `yaml:"max_attempts"`
	QueueSize      int            `yaml:"queue_size"`
	RateLimit      float64        `yaml:"rate_limit,omitempty"` // ops/sec, 0 = unlimited
	RetryInitialMs int            `yaml:"retry_initial_ms"`
}

type MarqoConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table,omitempty"`
}

type WatchConfig struct {
	QuietWindowMs  int  `yaml:"quiet_window_ms"`
	MaxPendingMs   int  `yaml:"max_pending_ms"`
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	ForcePolling   bool `yaml:"force_polling,omitempty"`
	RestartMax     int  `yaml:"restart_max"`
}

func (w WatchConfig) QuietWindow() time.Duration  { return time.Duration(w.QuietWindowMs) * time.Millisecond }
func (w WatchConfig) MaxPending() time.Duration   { return time.Duration(w.MaxPendingMs) * time.Millisecond }
func (w WatchConfig) PollInterval() time.Duration { return time.Duration(w.PollIntervalMs) * time.Millisecond }

type SourcesConfig struct {
	Codebases     []ProjectSource      `yaml:"codebases,omitempty"`
	Codex         []ProjectSource      `yaml:"codex,omitempty"`
	Conversations []ConversationSource `yaml:"conversations,omitempty"`
}

// ProjectSource names one project tree feeding a unified index.
type ProjectSource struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Enabled *bool  `yaml:"enabled,omitempty"` // nil means enabled
}

func (s ProjectSource) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// ConversationSource names one conversation export folder (chatgpt, claude, ...).
type ConversationSource struct {
	Type    string `yaml:"type"`
	Path    string `yaml:"path"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

func (s ConversationSource) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Backend: "marqo",
			Marqo: MarqoConfig{
				Endpoint:  "http://localhost:8882",
				TimeoutMs: 10000,
			},
			Workers:        4,
			MaxAttempts:    5,
			QueueSize:      256,
			RetryInitialMs: 500,
		},
		Watch: WatchConfig{
			QuietWindowMs:  1500,
			MaxPendingMs:   10000,
			PollIntervalMs: 3000,
			RestartMax:     5,
		},
		Ignore: []string{
			".git",
			"node_modules",
			"vendor",
			"bin",
			"obj",
			"build",
			"dist",
			"target",
			"__pycache__",
			"venv",
			".venv",
			"compiled",
			"Debug",
			"Release",
		},
	}
}

// DefaultSkipExtensions lists binary, media, and archive extensions that are
// never worth shipping to a search index.
func DefaultSkipExtensions() []string {
	return []string{
		".exe", ".dll", ".pdb", ".bin", ".obj",
		".pyc", ".pyo", ".pyd", ".so", ".dylib",
		".jpg", ".jpeg", ".png", ".gif", ".ico",
		".mp3", ".mp4", ".wav", ".avi", ".mov",
		".zip", ".tar", ".gz", ".rar", ".7z",
		".cache", ".log", ".tmp", ".swp",
		".pdf", ".doc", ".docx", ".xls", ".xlsx",
	}
}

// DefaultPath returns the OS-specific default config file location.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, ConfigDirName, ConfigFileName), nil
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills in missing values so older config files keep working.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Index.Backend == "" {
		c.Index.Backend = defaults.Index.Backend
	}
	if c.Index.Marqo.Endpoint == "" {
		c.Index.Marqo.Endpoint = defaults.Index.Marqo.Endpoint
	}
	if c.Index.Marqo.TimeoutMs <= 0 {
		c.Index.Marqo.TimeoutMs = defaults.Index.Marqo.TimeoutMs
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = defaults.Index.Workers
	}
	if c.Index.MaxAttempts <= 0 {
		c.Index.MaxAttempts = defaults.Index.MaxAttempts
	}
	if c.Index.QueueSize <= 0 {
		c.Index.QueueSize = defaults.Index.QueueSize
	}
	if c.Index.RetryInitialMs <= 0 {
		c.Index.RetryInitialMs = defaults.Index.RetryInitialMs
	}

	if c.Watch.QuietWindowMs <= 0 {
		c.Watch.QuietWindowMs = defaults.Watch.QuietWindowMs
	}
	if c.Watch.MaxPendingMs <= 0 {
		c.Watch.MaxPendingMs = defaults.Watch.MaxPendingMs
	}
	if c.Watch.PollIntervalMs <= 0 {
		c.Watch.PollIntervalMs = defaults.Watch.PollIntervalMs
	}
	if c.Watch.RestartMax <= 0 {
		c.Watch.RestartMax = defaults.Watch.RestartMax
	}

	if c.Ignore == nil {
		c.Ignore = defaults.Ignore
	}
}

func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
