// Package config handles atende configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/atende/config.yaml, /etc/atende/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "atende", "config.yaml"))
	}

	paths = append(paths, "/etc/atende/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all atende configuration.
type Config struct {
	Redis         RedisConfig         `yaml:"redis"`
	Completion    CompletionConfig    `yaml:"completion"`
	Audio         AudioConfig         `yaml:"audio"`
	Store         StoreConfig         `yaml:"store"`
	Clarification ClarificationConfig `yaml:"clarification"`
	History       HistoryConfig       `yaml:"history"`
	LogLevel      string              `yaml:"log_level"`
}

// RedisConfig defines the connection for the session state store and the
// history cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CompletionConfig defines the completion model endpoint and the default
// model parameters for rewrite calls.
type CompletionConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// AudioConfig defines the speech-synthesis service. When disabled, turns
// are always text-only regardless of the policy table.
type AudioConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// StoreConfig defines the message log location.
type StoreConfig struct {
	MessageLogPath string `yaml:"message_log_path"`
}

// ClarificationConfig bounds the clarify loop.
type ClarificationConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	TTL         time.Duration `yaml:"ttl"`
}

// HistoryConfig shapes the rewrite context window.
type HistoryConfig struct {
	TTL   time.Duration `yaml:"ttl"`
	Limit int           `yaml:"limit"`
}

// Load reads and parses a config file, applying defaults for anything
// unset. Environment variable references (${VAR}) in the file are
// expanded before parsing, so secrets can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Completion.Model == "" {
		return nil, fmt.Errorf("config %s: completion.model is required", path)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Completion.MaxTokens <= 0 {
		c.Completion.MaxTokens = 1024
	}
	if c.Store.MessageLogPath == "" {
		c.Store.MessageLogPath = "atende.db"
	}
	if c.Clarification.MaxAttempts <= 0 {
		c.Clarification.MaxAttempts = 2
	}
	if c.Clarification.TTL <= 0 {
		c.Clarification.TTL = 10 * time.Minute
	}
	if c.History.TTL <= 0 {
		c.History.TTL = 6 * time.Hour
	}
	if c.History.Limit <= 0 {
		c.History.Limit = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
