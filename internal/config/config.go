// ABOUTME: Configuration loading for postbox
// ABOUTME: Loads TOML config with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete postbox configuration.
type Config struct {
	Matrix    MatrixConfig    `toml:"matrix"`
	Database  DatabaseConfig  `toml:"database"`
	Directory DirectoryConfig `toml:"directory"`
	Mailbox   MailboxConfig   `toml:"mailbox"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

// MatrixConfig holds the homeserver connection and room policy.
type MatrixConfig struct {
	Homeserver    string   `toml:"homeserver"`
	UserID        string   `toml:"user_id"`
	AccessToken   string   `toml:"access_token"`
	AllowedRooms  []string `toml:"allowed_rooms"`  // empty = all rooms the bot is in
	CommandPrefix string   `toml:"command_prefix"` // default "!"
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// DirectoryConfig holds profile-code issuing policy.
type DirectoryConfig struct {
	CodeLength int `toml:"code_length"` // default 4

	// ExploreAllowed restricts the explore command to these user IDs.
	// Empty opens the directory to everyone — every code is disclosed
	// to any caller, so set this on anything but a closed community.
	ExploreAllowed []string `toml:"explore_allowed"`
}

// MailboxConfig holds message limits and delivery timing.
type MailboxConfig struct {
	MaxMessageBytes int `toml:"max_message_bytes"` // default 4096
	SendsPerMinute  int `toml:"sends_per_minute"`  // default 6, 0 disables limiting
	SendBurst       int `toml:"send_burst"`        // default 3

	DeliveryTimeout time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	DeliveryTimeoutRaw string `toml:"delivery_timeout"` // default "10s"
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"` // default "127.0.0.1:9109"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables
// in the ${VAR} syntax and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = "!"
	}
	if c.Directory.CodeLength == 0 {
		c.Directory.CodeLength = 4
	}
	if c.Mailbox.MaxMessageBytes == 0 {
		c.Mailbox.MaxMessageBytes = 4096
	}
	if c.Mailbox.SendsPerMinute == 0 {
		c.Mailbox.SendsPerMinute = 6
	}
	if c.Mailbox.SendBurst == 0 {
		c.Mailbox.SendBurst = 3
	}
	if c.Mailbox.DeliveryTimeoutRaw == "" {
		c.Mailbox.DeliveryTimeoutRaw = "10s"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9109"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) parseDurations() error {
	d, err := time.ParseDuration(c.Mailbox.DeliveryTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing delivery_timeout %q: %w", c.Mailbox.DeliveryTimeoutRaw, err)
	}
	c.Mailbox.DeliveryTimeout = d
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Directory.CodeLength < 1 || c.Directory.CodeLength > 8 {
		return fmt.Errorf("directory.code_length must be between 1 and 8, got %d", c.Directory.CodeLength)
	}
	if c.Mailbox.DeliveryTimeout <= 0 {
		return fmt.Errorf("mailbox.delivery_timeout must be positive")
	}
	return nil
}
