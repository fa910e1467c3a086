package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Printer  PrinterConfig  `yaml:"printer"`
	Queue    QueueConfig    `yaml:"queue"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	// AdminPassword seeds the admin password on first start when none is stored.
	AdminPassword   string        `yaml:"admin_password"`
	SecureCookies   bool          `yaml:"secure_cookies"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	ArchivePath string `yaml:"archive_path"`
	ArchiveDays int    `yaml:"archive_days"`
}

type PrinterConfig struct {
	ConfirmationWindow time.Duration `yaml:"confirmation_window"`
	PrintDuration      time.Duration `yaml:"print_duration"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type QueueConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// PricingConfig holds per-page prices in minor currency units.
type PricingConfig struct {
	SingleMono  int64 `yaml:"single_mono"`
	SingleColor int64 `yaml:"single_color"`
	DoubleMono  int64 `yaml:"double_mono"`
	DoubleColor int64 `yaml:"double_color"`
}

type WebhooksConfig struct {
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig enables the scheduler lease when Addr is set, so that only one
// replica drives the printer.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LeaseKey string        `yaml:"lease_key"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SessionTTL:      24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			Path:        "./data/printq.db",
			ArchivePath: "./data/archives",
			ArchiveDays: 30,
		},
		Printer: PrinterConfig{
			ConfirmationWindow: 5 * time.Minute,
			PrintDuration:      3 * time.Minute,
			PollInterval:       5 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries: 3,
			RetryDelay: 200 * time.Millisecond,
		},
		Pricing: PricingConfig{
			SingleMono:  50,
			SingleColor: 150,
			DoubleMono:  80,
			DoubleColor: 240,
		},
		Webhooks: WebhooksConfig{
			WorkerCount: 2,
			QueueSize:   100,
			MaxRetries:  3,
			RetryDelay:  time.Second,
			Timeout:     30 * time.Second,
		},
		Redis: RedisConfig{
			LeaseKey: "printq:lock:scheduler",
			LeaseTTL: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at configPath over the defaults and then applies
// PRINTQ_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromEnv() (*Config, error) {
	cfg := defaults()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PRINTQ_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PRINTQ_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("PRINTQ_ADMIN_PASSWORD"); v != "" {
		cfg.Server.AdminPassword = v
	}

	if v := os.Getenv("PRINTQ_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}

	if v := os.Getenv("PRINTQ_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRINTQ_ARCHIVE_PATH"); v != "" {
		cfg.Database.ArchivePath = v
	}

	if v := os.Getenv("PRINTQ_CONFIRMATION_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PRINTQ_CONFIRMATION_WINDOW %q: %w", v, err)
		}
		cfg.Printer.ConfirmationWindow = d
	}

	if v := os.Getenv("PRINTQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("PRINTQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("PRINTQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PRINTQ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (valid: sqlite, memory)", c.Database.Driver)
	}

	if c.Database.ArchiveDays < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if c.Printer.ConfirmationWindow <= 0 {
		return fmt.Errorf("confirmation window must be positive")
	}

	if c.Printer.PrintDuration <= 0 {
		return fmt.Errorf("print duration must be positive")
	}

	if c.Printer.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}

	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative")
	}

	p := c.Pricing
	if p.SingleMono < 0 || p.SingleColor < 0 || p.DoubleMono < 0 || p.DoubleColor < 0 {
		return fmt.Errorf("prices must be non-negative")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	if c.Webhooks.QueueSize < 1 {
		return fmt.Errorf("webhook queue size must be at least 1")
	}

	if c.Redis.Enabled() && c.Redis.LeaseTTL <= 0 {
		return fmt.Errorf("redis lease ttl must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
