package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxTimeout bounds every network deadline
const MaxTimeout = 30 * time.Second

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Printer PrinterConfig `yaml:"printer"`
	Pool    PoolConfig    `yaml:"pool"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PrinterConfig struct {
	DefaultPort     int              `yaml:"default_port"`
	ConnectTimeout  time.Duration    `yaml:"connect_timeout"`
	WriteTimeout    time.Duration    `yaml:"write_timeout"`
	ProbeTimeout    time.Duration    `yaml:"probe_timeout"`
	MaxPrintWidth   int              `yaml:"max_print_width"`
	ScanConcurrency int              `yaml:"scan_concurrency"`
	Autodetect      AutodetectConfig `yaml:"autodetect"`
}

type AutodetectConfig struct {
	BaseIP string `yaml:"base_ip"`
	Start  int    `yaml:"start"`
	End    int    `yaml:"end"`
}

type PoolConfig struct {
	MaxWorkers  int           `yaml:"max_workers"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         12212,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Printer: PrinterConfig{
			DefaultPort:     9100,
			ConnectTimeout:  5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ProbeTimeout:    2 * time.Second,
			MaxPrintWidth:   384,
			ScanConcurrency: 16,
			Autodetect: AutodetectConfig{
				BaseIP: "192.168.1",
				Start:  100,
				End:    110,
			},
		},
		Pool: PoolConfig{
			MaxWorkers:  32,
			IdleTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configPath over the defaults. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := defaults()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from ESCPOS_* environment variables. Values that
// do not parse are reported rather than silently skipped.
func ApplyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"ESCPOS_PORT", &cfg.Server.Port},
		{"ESCPOS_PRINTER_PORT", &cfg.Printer.DefaultPort},
		{"ESCPOS_MAX_PRINT_WIDTH", &cfg.Printer.MaxPrintWidth},
		{"ESCPOS_SCAN_CONCURRENCY", &cfg.Printer.ScanConcurrency},
		{"ESCPOS_SCAN_START", &cfg.Printer.Autodetect.Start},
		{"ESCPOS_SCAN_END", &cfg.Printer.Autodetect.End},
		{"ESCPOS_POOL_MAX_WORKERS", &cfg.Pool.MaxWorkers},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ESCPOS_CONNECT_TIMEOUT", &cfg.Printer.ConnectTimeout},
		{"ESCPOS_WRITE_TIMEOUT", &cfg.Printer.WriteTimeout},
		{"ESCPOS_PROBE_TIMEOUT", &cfg.Printer.ProbeTimeout},
		{"ESCPOS_POOL_IDLE_TIMEOUT", &cfg.Pool.IdleTimeout},
	}
	for _, e := range durations {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.key, v, err)
		}
		*e.dst = d
	}

	if v := os.Getenv("ESCPOS_SCAN_BASE_IP"); v != "" {
		cfg.Printer.Autodetect.BaseIP = v
	}
	if v := os.Getenv("ESCPOS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ESCPOS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
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

	if err := c.Printer.Validate(); err != nil {
		return err
	}

	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("pool max workers must be at least 1")
	}

	if c.Pool.IdleTimeout <= 0 {
		return fmt.Errorf("pool idle timeout must be positive")
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
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}

func (p *PrinterConfig) Validate() error {
	if p.DefaultPort < 1 || p.DefaultPort > 65535 {
		return fmt.Errorf("printer default port must be between 1 and 65535, got %d", p.DefaultPort)
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"connect timeout", p.ConnectTimeout},
		{"write timeout", p.WriteTimeout},
		{"probe timeout", p.ProbeTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 || t.d > MaxTimeout {
			return fmt.Errorf("printer %s must be in (0, %s], got %s", t.name, MaxTimeout, t.d)
		}
	}

	if p.MaxPrintWidth < 8 || p.MaxPrintWidth%8 != 0 || p.MaxPrintWidth > 0xFFFF*8 {
		return fmt.Errorf("max print width must be a positive multiple of 8, got %d", p.MaxPrintWidth)
	}

	if p.ScanConcurrency < 1 || p.ScanConcurrency > 64 {
		return fmt.Errorf("scan concurrency must be between 1 and 64, got %d", p.ScanConcurrency)
	}

	a := p.Autodetect
	if a.BaseIP == "" {
		return fmt.Errorf("autodetect base ip is required")
	}
	if a.Start < 1 || a.End > 254 || a.Start > a.End {
		return fmt.Errorf("autodetect range %d-%d must satisfy 1 <= start <= end <= 254", a.Start, a.End)
	}

	return nil
}
