package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Server         Server    `toml:"server"`
	Reconnect      Reconnect `toml:"reconnect"`
	Sync           Sync      `toml:"sync"`
	Metrics        Metrics   `toml:"metrics"`
	Log            Log       `toml:"log"`
}

// Server locates the chat backend.
type Server struct {
	SocketURL  string `toml:"socket_url"`
	RefreshURL string `toml:"refresh_url"`
}

// Reconnect tunes the transport's backoff policy.
type Reconnect struct {
	BaseDelayMS    int `toml:"base_delay_ms"`
	MaxDelayMS     int `toml:"max_delay_ms"`
	MaxAttempts    int `toml:"max_attempts"`
	PingIntervalMS int `toml:"ping_interval_ms"`
}

type Sync struct {
	ProcessedIDsCapacity int `toml:"processed_ids_capacity"`
}

// Metrics configures the optional prometheus endpoint. Empty ListenAddr disables it.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Log sets the daemon's zap level: debug, info, warn or error.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			SocketURL:  "ws://localhost:8000/ws/chat/",
			RefreshURL: "http://localhost:8000/api/token/refresh/",
		},
		Reconnect: Reconnect{
			BaseDelayMS:    1000,
			MaxDelayMS:     10000,
			MaxAttempts:    5,
			PingIntervalMS: 30000,
		},
		Sync: Sync{ProcessedIDsCapacity: 1024},
		Log:  Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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

// fillDefaults replaces non-positive tuning values, which would stall or
// spin the reconnect loop, with their defaults. A zero ping interval is kept:
// it disables keepalive.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Server.SocketURL == "" {
		c.Server.SocketURL = d.Server.SocketURL
	}
	if c.Server.RefreshURL == "" {
		c.Server.RefreshURL = d.Server.RefreshURL
	}
	if c.Reconnect.BaseDelayMS <= 0 {
		c.Reconnect.BaseDelayMS = d.Reconnect.BaseDelayMS
	}
	if c.Reconnect.MaxDelayMS < c.Reconnect.BaseDelayMS {
		c.Reconnect.MaxDelayMS = max(d.Reconnect.MaxDelayMS, c.Reconnect.BaseDelayMS)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Reconnect.PingIntervalMS < 0 {
		c.Reconnect.PingIntervalMS = 0
	}
	if c.Sync.ProcessedIDsCapacity <= 0 {
		c.Sync.ProcessedIDsCapacity = d.Sync.ProcessedIDsCapacity
	}
}

func (r Reconnect) BaseDelay() time.Duration    { return ms(r.BaseDelayMS) }
func (r Reconnect) MaxDelay() time.Duration     { return ms(r.MaxDelayMS) }
func (r Reconnect) PingInterval() time.Duration { return ms(r.PingIntervalMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
