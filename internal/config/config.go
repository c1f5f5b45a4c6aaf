package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied when the config file omits a value.
const (
	DefaultBaseURL       = "https://api.chatroom.example.com/v1"
	DefaultWSURL         = "wss://api.chatroom.example.com/v1/ws"
	DefaultRetryInterval = 15
)

// Config represents the global ~/.chatroom/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// SelfUserID is the authenticated user's ID, written by the login
	// flow. Used to resolve direct-chat display names.
	SelfUserID string `toml:"self_user_id"`
	Server     Server `toml:"server"`
	Sync       Sync   `toml:"sync"`
}

// Server holds remote endpoint settings.
type Server struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
}

// Sync holds reconciliation and retry policy settings.
type Sync struct {
	// RetryIntervalSecs is the minimum interval between automatic outbox
	// retry rounds. Reconnects trigger a drain regardless.
	RetryIntervalSecs int `toml:"retry_interval_secs"`
}

// Load reads config from the given path and fills in defaults. Returns
// an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to pure defaults
// when the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	if c.Server.WSURL == "" {
		c.Server.WSURL = DefaultWSURL
	}
	if c.Sync.RetryIntervalSecs <= 0 {
		c.Sync.RetryIntervalSecs = DefaultRetryInterval
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
