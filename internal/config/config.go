package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/livetemplate/tinkerpen"
)

// FileName is the config file looked up in the data directory.
const FileName = "tinkerpen.yaml"

// EnvPrefix prefixes every environment override, e.g. TINKERPEN_SERVER_PORT.
const EnvPrefix = "TINKERPEN"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendDir      = "dir"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Sandbox modes.
const (
	SandboxBrowser  = "browser"
	SandboxHeadless = "headless"
)

// Config represents the tinkerpen configuration
type Config struct {
	Title   string        `yaml:"title"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Editor  EditorConfig  `yaml:"editor"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Console ConsoleConfig `yaml:"console"`
	View    ViewConfig    `yaml:"view"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// StorageConfig selects where documents are persisted
type StorageConfig struct {
	Backend      string `yaml:"backend"`                                    // memory, file, dir, sqlite, postgres
	Dir          string `yaml:"dir"`                                        // data directory for file, dir and sqlite
	DSN          string `yaml:"dsn,omitempty"`                              // postgres connection string (env vars expanded)
	Namespace    string `yaml:"namespace" split_words:"true"`               // storage key (default: editorFiles)
	Watch        bool   `yaml:"watch"`                                      // dir backend: pick up external edits
	WriteTimeout string `yaml:"write_timeout,omitempty" split_words:"true"` // per write (default: 5s)
}

// EditorConfig holds editing behavior
type EditorConfig struct {
	QuietPeriod string          `yaml:"quiet_period,omitempty" split_words:"true"` // debounce (default: 300ms)
	Settings    map[string]bool `yaml:"settings,omitempty"`                        // initial editor options
}

// SandboxConfig holds preview execution settings
type SandboxConfig struct {
	Mode      string `yaml:"mode"`                                    // browser or headless
	Timeout   string `yaml:"timeout,omitempty"`                       // headless budget (default: 5s)
	MaxTimers int    `yaml:"max_timers,omitempty" split_words:"true"` // headless timer callbacks (default: 1000)
}

// ConsoleConfig holds Console Record limits
type ConsoleConfig struct {
	MaxRecords int `yaml:"max_records,omitempty" split_words:"true"` // 0 = unlimited
}

// ViewConfig holds layout settings
type ViewConfig struct {
	Breakpoint int `yaml:"breakpoint,omitempty"` // wide at or above this width (default: 768)
}

// APIConfig holds REST API configuration
type APIConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" split_words:"true"` // default: 10
	Burst             int     `yaml:"burst,omitempty"`                                  // default: 20
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "tinkerpen",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Backend:   BackendFile,
			Dir:       ".",
			Namespace: tinkerpen.DefaultNamespace,
		},
		Editor: EditorConfig{
			Settings: tinkerpen.DefaultSettings(),
		},
		Sandbox: SandboxConfig{
			Mode: SandboxBrowser,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file over the defaults.
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// LoadFromDir loads tinkerpen.yaml from dir, or the defaults when absent.
// The storage directory defaults to dir.
func LoadFromDir(dir string) (*Config, error) {
	config, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	if config.Storage.Dir == "" || config.Storage.Dir == "." {
		config.Storage.Dir = dir
	}
	return config, nil
}

// ApplyEnv overrides fields from TINKERPEN_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendDir, BackendSQLite:
	case BackendPostgres:
		if c.GetDSN() == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Watch && c.Storage.Backend != BackendDir {
		return fmt.Errorf("storage.watch requires the %s backend", BackendDir)
	}
	switch c.Sandbox.Mode {
	case SandboxBrowser, SandboxHeadless:
	default:
		return fmt.Errorf("unknown sandbox.mode %q", c.Sandbox.Mode)
	}
	if c.Console.MaxRecords < 0 {
		return errors.New("console.max_records cannot be negative")
	}
	for field, value := range map[string]string{
		"storage.write_timeout": c.Storage.WriteTimeout,
		"editor.quiet_period":   c.Editor.QuietPeriod,
		"sandbox.timeout":       c.Sandbox.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// IsHeadless reports whether previews execute server-side.
func (c *Config) IsHeadless() bool {
	return c.Sandbox.Mode == SandboxHeadless
}

// GetNamespace returns the storage key (default: editorFiles)
func (c *Config) GetNamespace() string {
	if c.Storage.Namespace == "" {
		return tinkerpen.DefaultNamespace
	}
	return c.Storage.Namespace
}

// GetDSN returns the postgres DSN with environment variable expansion
func (c *Config) GetDSN() string {
	return os.ExpandEnv(c.Storage.DSN)
}

// GetSQLitePath returns the sqlite database file in the data directory
func (c *Config) GetSQLitePath() string {
	return filepath.Join(c.Storage.Dir, "tinkerpen.db")
}

// GetWriteTimeout returns the persistence write timeout (default: 5s)
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Storage.WriteTimeout, 5*time.Second)
}

// GetQuietPeriod returns the edit debounce interval (default: 300ms)
func (c *Config) GetQuietPeriod() time.Duration {
	return parseDuration(c.Editor.QuietPeriod, 300*time.Millisecond)
}

// GetSandboxTimeout returns the headless execution budget (default: 5s)
func (c *Config) GetSandboxTimeout() time.Duration {
	return parseDuration(c.Sandbox.Timeout, 5*time.Second)
}

// GetMaxTimers returns the headless timer budget (default: 1000)
func (c *Config) GetMaxTimers() int {
	if c.Sandbox.MaxTimers <= 0 {
		return 1000
	}
	return c.Sandbox.MaxTimers
}

// GetBreakpoint returns the wide viewport threshold (default: 768)
func (c *Config) GetBreakpoint() int {
	if c.View.Breakpoint <= 0 {
		return 768
	}
	return c.View.Breakpoint
}

// GetSettings returns the initial editor options over the defaults
func (c *Config) GetSettings() tinkerpen.Settings {
	settings := tinkerpen.DefaultSettings()
	for name, enabled := range c.Editor.Settings {
		settings[name] = enabled
	}
	return settings
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *Config) GetRateLimitRPS() float64 {
	if c.API.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.API.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *Config) GetRateLimitBurst() int {
	if c.API.RateLimit.Burst <= 0 {
		return 20
	}
	return c.API.RateLimit.Burst
}

// GetLogLevel returns the log level, forced to debug by server.debug
func (c *Config) GetLogLevel() string {
	if c.Server.Debug {
		return "debug"
	}
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
