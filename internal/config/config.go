// Package config loads webtrufflehog settings from defaults, an optional
// YAML file and WTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WTH_STORE_PATH.
const EnvPrefix = "WTH"

// Source kinds.
const (
	SourceBrowser = "browser"
	SourceNDJSON  = "ndjson"
)

// Config is the complete configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Host    HostConfig    `mapstructure:"host"`
	Source  SourceConfig  `mapstructure:"source"`
	Browser BrowserConfig `mapstructure:"browser"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Report  ReportConfig  `mapstructure:"report"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type BridgeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// HostConfig describes how the core launches the scanning host.
type HostConfig struct {
	// Command is the host executable. Empty means the running binary,
	// started with the "host" subcommand.
	Command         string   `mapstructure:"command"`
	Args            []string `mapstructure:"args"`
	MaxRPS          float64  `mapstructure:"max_rps"`
	MaxMessageBytes int      `mapstructure:"max_message_bytes"`
}

type SourceConfig struct {
	Kind string `mapstructure:"kind"`

	// File is the NDJSON event stream; "-" is stdin.
	File string `mapstructure:"file"`
}

type BrowserConfig struct {
	Bin       string   `mapstructure:"bin"`
	Headless  bool     `mapstructure:"headless"`
	Proxy     string   `mapstructure:"proxy"`
	StartURLs []string `mapstructure:"start_urls"`
}

// ScannerConfig is read by the scanning host.
type ScannerConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	Trufflehog      string        `mapstructure:"trufflehog"`
	ResultsFile     string        `mapstructure:"results_file"`
	TempDir         string        `mapstructure:"temp_dir"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	DownloadMaxRPS  float64       `mapstructure:"download_max_rps"`
	DownloadProxy   string        `mapstructure:"download_proxy"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	Insecure        bool          `mapstructure:"insecure"`
	RandomUserAgent bool          `mapstructure:"random_user_agent"`
}

type ReportConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.file", "")

	// Store
	v.SetDefault("store.path", "webtrufflehog.db")

	// Bridge
	v.SetDefault("bridge.heartbeat_interval", 2*time.Second)

	// Host channel
	v.SetDefault("host.command", "")
	v.SetDefault("host.args", []string{})
	v.SetDefault("host.max_rps", 0)
	v.SetDefault("host.max_message_bytes", 1024*1024)

	// Event source
	v.SetDefault("source.kind", SourceBrowser)
	v.SetDefault("source.file", "-")

	// Browser
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.start_urls", []string{})

	// Scanner
	v.SetDefault("scanner.workers", 10)
	v.SetDefault("scanner.queue_capacity", 10000)
	v.SetDefault("scanner.trufflehog", "trufflehog")
	v.SetDefault("scanner.results_file", "results.json")
	v.SetDefault("scanner.temp_dir", "")
	v.SetDefault("scanner.download_timeout", 30*time.Second)
	v.SetDefault("scanner.download_max_rps", 0)
	v.SetDefault("scanner.download_proxy", "")
	v.SetDefault("scanner.max_body_bytes", 10*1024*1024)
	v.SetDefault("scanner.insecure", false)
	v.SetDefault("scanner.random_user_agent", false)

	// Findings view
	v.SetDefault("report.format", "text")
}

// ReadFile loads a YAML config file. With an empty path it tries
// ./webtrufflehog.yaml, then $HOME/.webtrufflehog.yaml; finding neither is
// not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		path = defaultConfigFile()
		if path == "" {
			return nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

func defaultConfigFile() string {
	candidates := []string{"webtrufflehog.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".webtrufflehog.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Store.Path == "" {
		return errors.New("config: store.path must not be empty")
	}
	if c.Bridge.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: bridge.heartbeat_interval must be positive, got %s", c.Bridge.HeartbeatInterval)
	}
	if c.Host.MaxRPS < 0 {
		return fmt.Errorf("config: host.max_rps must not be negative, got %v", c.Host.MaxRPS)
	}
	if c.Host.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: host.max_message_bytes must be positive, got %d", c.Host.MaxMessageBytes)
	}
	switch c.Source.Kind {
	case SourceBrowser, SourceNDJSON:
	default:
		return fmt.Errorf("config: source.kind must be %q or %q, got %q", SourceBrowser, SourceNDJSON, c.Source.Kind)
	}
	if c.Scanner.Workers <= 0 {
		return fmt.Errorf("config: scanner.workers must be positive, got %d", c.Scanner.Workers)
	}
	if c.Scanner.QueueCapacity <= 0 {
		return fmt.Errorf("config: scanner.queue_capacity must be positive, got %d", c.Scanner.QueueCapacity)
	}
	if c.Scanner.DownloadMaxRPS < 0 {
		return fmt.Errorf("config: scanner.download_max_rps must not be negative, got %v", c.Scanner.DownloadMaxRPS)
	}
	return nil
}
