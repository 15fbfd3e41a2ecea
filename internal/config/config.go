// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	Activity  ActivityConfig  `yaml:"activity" toml:"activity"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional, serves grpc.health.v1
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve HTTPS on :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// GatewayConfig holds live-connection tuning
type GatewayConfig struct {
	PingInterval   time.Duration `yaml:"-" toml:"-"`
	PongTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeout   time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout time.Duration `yaml:"-" toml:"-"`
	CommandTimeout time.Duration `yaml:"-" toml:"-"`

	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
	MaxFrameBytes  int64    `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw   string `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeoutRaw    string `yaml:"pong_timeout" toml:"pong_timeout"`
	WriteTimeoutRaw   string `yaml:"write_timeout" toml:"write_timeout"`
	ConnectTimeoutRaw string `yaml:"connect_timeout" toml:"connect_timeout"`
	CommandTimeoutRaw string `yaml:"command_timeout" toml:"command_timeout"`
}

// ChatConfig holds message log and dedupe settings
type ChatConfig struct {
	DefaultPageSize  int           `yaml:"default_page_size" toml:"default_page_size"`
	MaxPageSize      int           `yaml:"max_page_size" toml:"max_page_size"`
	DedupeTTL        time.Duration `yaml:"-" toml:"-"`
	DedupeMaxEntries int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ActivityConfig holds activity-log dispatcher settings
type ActivityConfig struct {
	QueueSize int           `yaml:"queue_size" toml:"queue_size"`
	Timeout   time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults
const (
	DefaultTokenTTL         = 7 * 24 * time.Hour
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultCommandTimeout   = 5 * time.Second
	DefaultSendBuffer       = 128
	DefaultMaxFrameBytes    = 1 << 20
	DefaultPageSize         = 30
	DefaultMaxPageSize      = 100
	DefaultDedupeTTL        = 5 * time.Minute
	DefaultDedupeMaxEntries = 100_000
	DefaultActivityQueue    = 256
	DefaultActivityTimeout  = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}

	if envPath := os.Getenv("COVEN_CHAT_DB_PATH"); envPath != "" {
		cfg.Database.Path = envPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes raw configuration content without validating it
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Chat.MaxPageSize > DefaultMaxPageSize {
		return fmt.Errorf("chat.max_page_size (%d) cannot exceed %d", c.Chat.MaxPageSize, DefaultMaxPageSize)
	}

	if c.Chat.DefaultPageSize > c.Chat.MaxPageSize {
		return fmt.Errorf("chat.default_page_size (%d) exceeds chat.max_page_size (%d)", c.Chat.DefaultPageSize, c.Chat.MaxPageSize)
	}

	if c.Gateway.PongTimeout <= c.Gateway.PingInterval {
		return fmt.Errorf("gateway.pong_timeout (%s) must exceed gateway.ping_interval (%s)", c.Gateway.PongTimeout, c.Gateway.PingInterval)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"gateway.ping_interval", cfg.Gateway.PingIntervalRaw, &cfg.Gateway.PingInterval},
		{"gateway.pong_timeout", cfg.Gateway.PongTimeoutRaw, &cfg.Gateway.PongTimeout},
		{"gateway.write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
		{"gateway.connect_timeout", cfg.Gateway.ConnectTimeoutRaw, &cfg.Gateway.ConnectTimeout},
		{"gateway.command_timeout", cfg.Gateway.CommandTimeoutRaw, &cfg.Gateway.CommandTimeout},
		{"chat.dedupe_ttl", cfg.Chat.DedupeTTLRaw, &cfg.Chat.DedupeTTL},
		{"activity.timeout", cfg.Activity.TimeoutRaw, &cfg.Activity.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// applyDefaults fills zero values with the documented defaults
func (c *Config) applyDefaults() {
	setDuration(&c.Auth.TokenTTL, DefaultTokenTTL)
	setDuration(&c.Gateway.PingInterval, DefaultPingInterval)
	setDuration(&c.Gateway.PongTimeout, DefaultPongTimeout)
	setDuration(&c.Gateway.WriteTimeout, DefaultWriteTimeout)
	setDuration(&c.Gateway.ConnectTimeout, DefaultConnectTimeout)
	setDuration(&c.Gateway.CommandTimeout, DefaultCommandTimeout)
	setDuration(&c.Chat.DedupeTTL, DefaultDedupeTTL)
	setDuration(&c.Activity.Timeout, DefaultActivityTimeout)

	setInt(&c.Gateway.SendBuffer, DefaultSendBuffer)
	if c.Gateway.MaxFrameBytes <= 0 {
		c.Gateway.MaxFrameBytes = DefaultMaxFrameBytes
	}
	setInt(&c.Chat.DefaultPageSize, DefaultPageSize)
	setInt(&c.Chat.MaxPageSize, DefaultMaxPageSize)
	setInt(&c.Chat.DedupeMaxEntries, DefaultDedupeMaxEntries)
	setInt(&c.Activity.QueueSize, DefaultActivityQueue)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Default returns a Config with every default applied and no required
// fields set
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
