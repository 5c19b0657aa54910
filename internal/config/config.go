package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultPort is the port the server listens on when none is configured
	DefaultPort = "4698"

	// DefaultNtfyURL is the public ntfy.sh instance
	DefaultNtfyURL = "https://ntfy.sh"

	// DefaultConfigPath is where the config file lives unless --config is given
	DefaultConfigPath = "~/.config/ssa/config.json"

	// DefaultDBPath is where the SQLite database lives unless configured
	DefaultDBPath = "~/.config/ssa/analytics.db"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Ntfy     NtfyConfig     `json:"ntfy"`
	Tracking TrackingConfig `json:"tracking"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Port       string `json:"port"`
	Domain     string `json:"domain"`
	Env        string `json:"env"`
	AutoTLS    bool   `json:"auto_tls,omitempty"`
	ACMEEmail  string `json:"acme_email,omitempty"`
	TrustProxy bool   `json:"trust_proxy,omitempty"`
}

// DatabaseConfig points at the SQLite file
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig holds the single dashboard user
type AuthConfig struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// NtfyConfig configures push notifications
type NtfyConfig struct {
	Topic string `json:"topic"`
	URL   string `json:"url"`
}

// TrackingConfig controls which hits are accepted
type TrackingConfig struct {
	// AllowedDomains restricts tracking to these domains and their subdomains.
	// Empty means any domain is accepted.
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	IgnoreBots     bool     `json:"ignore_bots"`
	RespectDNT     bool     `json:"respect_dnt"`
	// RateLimit is the sustained number of tracking requests per second per IP
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
}

// MetricsConfig toggles the public Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// CLIFlags holds the flags accepted by the serve command
type CLIFlags struct {
	ConfigPath string
	DBPath     string
	Port       string
	Env        string
	Verbose    bool
	Quiet      bool
}

var (
	appConfig *Config
	mu        sync.RWMutex
)

// ParseFlags parses serve flags from args
func ParseFlags(args []string) (*CLIFlags, error) {
	flags := &CLIFlags{}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigPath, "config", DefaultConfigPath, "Path to config file")
	fs.StringVar(&flags.DBPath, "db", "", "Database file path (overrides config)")
	fs.StringVar(&flags.Port, "port", "", "Server port (overrides config)")
	fs.StringVar(&flags.Env, "env", "", "Environment: development or production (overrides config)")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.Quiet, "quiet", false, "Quiet mode (errors only)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// Load reads the config file, applies environment and flag overrides,
// validates the result and makes it the process-wide config
func Load(flags *CLIFlags) (*Config, error) {
	configPath := ExpandPath(flags.ConfigPath)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found, run 'ssa-server init' first", configPath)
		}
		return nil, err
	}

	applyEnv(cfg)

	if flags.Port != "" {
		cfg.Server.Port = flags.Port
	}
	if flags.DBPath != "" {
		cfg.Database.Path = flags.DBPath
	}
	if flags.Env != "" {
		cfg.Server.Env = flags.Env
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	if cfg.Ntfy.URL == "" {
		cfg.Ntfy.URL = DefaultNtfyURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	Set(cfg)
	log.Printf("Configuration loaded: Environment=%s, Port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg, nil
}

// applyEnv overrides file values with SSA_* environment variables
func applyEnv(cfg *Config) {
	if v := os.Getenv("SSA_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SSA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SSA_ENV"); v != "" {
		cfg.Server.Env = v
	}
}

// Get returns the process-wide configuration, or defaults if none was loaded
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if appConfig == nil {
		return CreateDefaultConfig()
	}
	return appConfig
}

// Set replaces the process-wide configuration
func Set(cfg *Config) {
	mu.Lock()
	appConfig = cfg
	mu.Unlock()
}

var verbose atomic.Bool

// SetVerbose turns debug lines on or off
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Debugf logs through the standard logger only when --verbose is set
func Debugf(format string, args ...any) {
	if verbose.Load() {
		log.Output(2, fmt.Sprintf(format, args...))
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be between 1 and 65535", c.Server.Port)
	}

	if c.Server.Env != "development" && c.Server.Env != "production" {
		return fmt.Errorf("invalid environment %q: must be development or production", c.Server.Env)
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}

	if c.Auth.Username == "" {
		return errors.New("auth username is required (run 'ssa-server init')")
	}
	if c.Auth.PasswordHash == "" {
		return errors.New("auth password is required (run 'ssa-server init')")
	}

	if c.Server.AutoTLS {
		if c.Server.ACMEEmail == "" {
			return errors.New("auto_tls requires acme_email")
		}
		host := c.Host()
		if host == "" || host == "localhost" || strings.Contains(host, "/") {
			return fmt.Errorf("auto_tls requires a public domain, got %q", c.Server.Domain)
		}
	}

	if c.Tracking.RateLimit < 0 || c.Tracking.RateBurst < 0 {
		return errors.New("tracking rate limit cannot be negative")
	}

	return nil
}

// Host returns the bare host name of Server.Domain
func (c *Config) Host() string {
	d := c.Server.Domain
	if i := strings.Index(d, "://"); i != -1 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, ":/"); i != -1 {
		d = d[:i]
	}
	return strings.ToLower(d)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// CreateDefaultConfig returns a config with defaults and no credentials
func CreateDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   DefaultPort,
			Domain: "http://localhost",
			Env:    "development",
		},
		Database: DatabaseConfig{
			Path: ExpandPath(DefaultDBPath),
		},
		Ntfy: NtfyConfig{
			URL: DefaultNtfyURL,
		},
		Tracking: TrackingConfig{
			IgnoreBots: true,
			RespectDNT: false,
			RateLimit:  10,
			RateBurst:  20,
		},
	}
}

// LoadFromFile reads a config file without applying overrides
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := CreateDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the config as indented JSON with 0600 permissions
func SaveToFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0600)
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
