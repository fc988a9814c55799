package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	p := cfg.Printer
	if p.DefaultPort != 9100 || p.ConnectTimeout != 5*time.Second || p.ProbeTimeout != 2*time.Second {
		t.Errorf("unexpected printer defaults: %+v", p)
	}
	if p.MaxPrintWidth != 384 {
		t.Errorf("MaxPrintWidth = %d, want 384", p.MaxPrintWidth)
	}
	if p.Autodetect.BaseIP != "192.168.1" || p.Autodetect.Start != 100 || p.Autodetect.End != 110 {
		t.Errorf("unexpected autodetect defaults: %+v", p.Autodetect)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 12212 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8080
printer:
  connect_timeout: 3s
  max_print_width: 576
  autodetect:
    base_ip: 10.0.0
logging:
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Printer.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %s", cfg.Printer.ConnectTimeout)
	}
	if cfg.Printer.MaxPrintWidth != 576 {
		t.Errorf("MaxPrintWidth = %d", cfg.Printer.MaxPrintWidth)
	}
	if cfg.Printer.Autodetect.BaseIP != "10.0.0" || cfg.Printer.Autodetect.Start != 100 {
		t.Errorf("Autodetect = %+v", cfg.Printer.Autodetect)
	}
	// untouched keys keep their defaults
	if cfg.Printer.WriteTimeout != 10*time.Second || cfg.Logging.Level != "info" {
		t.Errorf("defaults lost: %+v %+v", cfg.Printer, cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server: [unclosed"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ESCPOS_PORT", "9000")
	t.Setenv("ESCPOS_PROBE_TIMEOUT", "500ms")
	t.Setenv("ESCPOS_SCAN_BASE_IP", "172.16.0")
	t.Setenv("ESCPOS_LOG_LEVEL", "DEBUG")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Printer.ProbeTimeout != 500*time.Millisecond {
		t.Errorf("ProbeTimeout = %s", cfg.Printer.ProbeTimeout)
	}
	if cfg.Printer.Autodetect.BaseIP != "172.16.0" {
		t.Errorf("BaseIP = %s", cfg.Printer.Autodetect.BaseIP)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %s", cfg.Logging.Level)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("ESCPOS_WRITE_TIMEOUT", "ten seconds")

	err := ApplyEnv(Default())
	if err == nil || !strings.Contains(err.Error(), "ESCPOS_WRITE_TIMEOUT") {
		t.Errorf("ApplyEnv() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"server port", func(c *Config) { c.Server.Port = 0 }},
		{"printer port", func(c *Config) { c.Printer.DefaultPort = 70000 }},
		{"zero connect timeout", func(c *Config) { c.Printer.ConnectTimeout = 0 }},
		{"long write timeout", func(c *Config) { c.Printer.WriteTimeout = time.Minute }},
		{"print width not multiple of 8", func(c *Config) { c.Printer.MaxPrintWidth = 390 }},
		{"scan concurrency", func(c *Config) { c.Printer.ScanConcurrency = 65 }},
		{"reversed range", func(c *Config) { c.Printer.Autodetect.Start = 120 }},
		{"pool workers", func(c *Config) { c.Pool.MaxWorkers = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
