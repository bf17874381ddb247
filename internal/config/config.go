package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Booth     BoothConfig     `yaml:"booth"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Album     AlbumConfig     `yaml:"album"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BoothConfig struct {
	// UploadDir is the root of the picture tree; each tag gets a
	// subdirectory under it.
	UploadDir string `yaml:"upload_dir"`
	// PublicHost is the host:port used to build the public picture URLs
	// handed back to clients (the booth may sit behind a proxy, so it is
	// not necessarily Server.Host:Server.Port).
	PublicHost string `yaml:"public_host"`
	// SessionTimeout is T: how long the booth waits for the next client
	// action before abandoning the session.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// RecoveryTimeout is armed after a failed picture upload so a client
	// that never retries cannot wedge the booth.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// CounterDuration is the default guest-visible countdown length,
	// used when the start request does not carry one.
	CounterDuration time.Duration `yaml:"counter_duration"`
	// AuditLog is the path of the append-only session log.
	AuditLog string `yaml:"audit_log"`
}

type WatermarkConfig struct {
	// Default logo URLs, used when the start request does not supply them.
	LogoLeftURL  string `yaml:"logo_left_url"`
	LogoRightURL string `yaml:"logo_right_url"`
}

type AlbumConfig struct {
	// Limit is the default number of pictures returned by the album
	// listing when the request does not specify one.
	Limit int `yaml:"limit"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6012,
			Host: "0.0.0.0",
		},
		Booth: BoothConfig{
			UploadDir:       "/tmp/uploads",
			PublicHost:      "localhost:6012",
			SessionTimeout:  30 * time.Second,
			RecoveryTimeout: 10 * time.Second,
			CounterDuration: 5 * time.Second,
			AuditLog:        "/tmp/uploads/sessions.log",
		},
		Album: AlbumConfig{
			Limit: 10,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the built-in defaults
// when the file does not exist. Any other read or parse error is reported.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) validate() error {
	if c.Booth.UploadDir == "" {
		return fmt.Errorf("booth.upload_dir must not be empty")
	}
	if c.Booth.SessionTimeout <= 0 {
		return fmt.Errorf("booth.session_timeout must be positive, got %s", c.Booth.SessionTimeout)
	}
	if c.Booth.RecoveryTimeout <= 0 {
		return fmt.Errorf("booth.recovery_timeout must be positive, got %s", c.Booth.RecoveryTimeout)
	}
	if c.Booth.CounterDuration <= 0 {
		return fmt.Errorf("booth.counter_duration must be positive, got %s", c.Booth.CounterDuration)
	}
	return nil
}
