package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in store.backend
const (
	BackendMinIO = "minio"
	BackendAWS   = "aws"
)

// Config represents the application configuration
type Config struct {
	Store       StoreConfig `yaml:"store"`
	Fix         Fix         `yaml:"fix"`
	MetricsAddr string      `yaml:"metrics_addr"`
	LogLevel    string      `yaml:"log_level"`
}

// StoreConfig represents S3-compatible storage configuration
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	PathStyle bool   `yaml:"path_style"`
}

// Fix represents the reconciliation run configuration
type Fix struct {
	Bucket       string            `yaml:"bucket"`
	Prefixes     []string          `yaml:"prefixes"`
	Workers      int               `yaml:"workers"`
	Verbose      bool              `yaml:"verbose"`
	DryRun       bool              `yaml:"dry_run"`
	QueueTimeout time.Duration     `yaml:"queue_timeout"`
	Checkpoint   string            `yaml:"checkpoint"`
	Resume       bool              `yaml:"resume"`
	ShowProgress bool              `yaml:"show_progress"`
	ContentTypes map[string]string `yaml:"content_types"`
}

// Default returns the configuration used before any file or flag is applied
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendMinIO,
			Region:  "us-east-1",
			Secure:  true,
		},
		Fix: Fix{
			Prefixes:     []string{""},
			Workers:      4,
			QueueTimeout: time.Hour,
			ShowProgress: true,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("backend") {
		cfg.Store.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("endpoint") {
		cfg.Store.Endpoint, _ = flags.GetString("endpoint")
	}
	if flags.Changed("region") {
		cfg.Store.Region, _ = flags.GetString("region")
	}
	if flags.Changed("access-key") {
		cfg.Store.AccessKey, _ = flags.GetString("access-key")
	}
	if flags.Changed("secret-key") {
		cfg.Store.SecretKey, _ = flags.GetString("secret-key")
	}
	if flags.Changed("secure") {
		cfg.Store.Secure, _ = flags.GetBool("secure")
	}
	if flags.Changed("path-style") {
		cfg.Store.PathStyle, _ = flags.GetBool("path-style")
	}

	if flags.Changed("bucket") {
		cfg.Fix.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("prefix") {
		prefixes, err := flags.GetStringArray("prefix")
		if err != nil {
			return err
		}
		cfg.Fix.Prefixes = prefixes
	}
	if flags.Changed("workers") {
		cfg.Fix.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("verbose") {
		cfg.Fix.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("dry-run") {
		cfg.Fix.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("queue-timeout") {
		cfg.Fix.QueueTimeout, _ = flags.GetDuration("queue-timeout")
	}
	if flags.Changed("checkpoint") {
		cfg.Fix.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("resume") {
		cfg.Fix.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("show-progress") {
		cfg.Fix.ShowProgress, _ = flags.GetBool("show-progress")
	}

	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMinIO:
		if c.Store.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the %s backend", BackendMinIO)
		}
	case BackendAWS:
	default:
		return fmt.Errorf("unknown backend %q", c.Store.Backend)
	}

	if c.Store.AccessKey == "" {
		return fmt.Errorf("access key is required")
	}
	if c.Store.SecretKey == "" {
		return fmt.Errorf("secret key is required")
	}

	if c.Fix.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if len(c.Fix.Prefixes) == 0 {
		return fmt.Errorf("at least one prefix is required")
	}

	if c.Fix.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Fix.QueueTimeout <= 0 {
		return fmt.Errorf("queue timeout must be positive")
	}

	if c.Fix.Resume && c.Fix.Checkpoint == "" {
		return fmt.Errorf("resume requires a checkpoint path")
	}

	return nil
}
