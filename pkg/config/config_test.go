package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load(LoadOptions{ConfigDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if used != "" {
		t.Errorf("Expected no config file, got %s", used)
	}

	d := DefaultConfig()
	if cfg.PuppetBinary != "puppet" || cfg.GitBinary != "git" {
		t.Errorf("Unexpected binaries: %s %s", cfg.PuppetBinary, cfg.GitBinary)
	}
	if cfg.Forge.URL != d.Forge.URL {
		t.Errorf("Forge URL = %s, want %s", cfg.Forge.URL, d.Forge.URL)
	}
	if cfg.Forge.Timeout != 30*time.Second {
		t.Errorf("Forge timeout = %v", cfg.Forge.Timeout)
	}
	if cfg.ModulePath != "" {
		t.Errorf("Expected empty modulepath, got %s", cfg.ModulePath)
	}
	if !cfg.History.Enabled || cfg.History.Path == "" {
		t.Errorf("Expected history enabled with a path, got %+v", cfg.History)
	}
}

func TestLoad_FileInConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
modulepath: /etc/puppet/modules
forge:
  url: https://forge.example.com
  timeout: 5s
  max_retries: 1
history:
  enabled: false
logging:
  level: debug
  format: json
`)

	cfg, used, err := Load(LoadOptions{ConfigDir: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if used != path {
		t.Errorf("Config used = %s, want %s", used, path)
	}
	if cfg.ModulePath != "/etc/puppet/modules" {
		t.Errorf("ModulePath = %s", cfg.ModulePath)
	}
	if cfg.Forge.URL != "https://forge.example.com" || cfg.Forge.Timeout != 5*time.Second || cfg.Forge.MaxRetries != 1 {
		t.Errorf("Unexpected forge config: %+v", cfg.Forge)
	}
	if cfg.History.Enabled {
		t.Error("Expected history disabled")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	// Unset keys keep their defaults.
	if cfg.PuppetBinary != "puppet" {
		t.Errorf("PuppetBinary = %s", cfg.PuppetBinary)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "puppetfile: ./Puppetfile\n")

	cfg, used, err := Load(LoadOptions{ConfigFile: path, ConfigDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if used != path || cfg.Puppetfile != "./Puppetfile" {
		t.Errorf("Expected puppetfile from %s, got %q from %q", path, cfg.Puppetfile, used)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "forge:\n  url: https://file.example.com\n")

	t.Setenv("MODDEPS_FORGE_URL", "https://env.example.com")
	t.Setenv("MODDEPS_HISTORY_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, _, err := Load(LoadOptions{ConfigDir: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Forge.URL != "https://env.example.com" {
		t.Errorf("Expected env to override file, got %s", cfg.Forge.URL)
	}
	if cfg.History.Enabled {
		t.Error("Expected history disabled from env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected LOG_LEVEL to apply, got %s", cfg.Logging.Level)
	}
}

func TestLoad_Flags(t *testing.T) {
	t.Setenv("MODDEPS_MODULEPATH", "/from/env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("modulepath", "", "")
	fs.String("puppetfile", "default-from-flag", "")
	if err := fs.Parse([]string{"--modulepath", "/from/flag"}); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	cfg, _, err := Load(LoadOptions{
		ConfigDir: t.TempDir(),
		Flags: map[string]*pflag.Flag{
			"modulepath": fs.Lookup("modulepath"),
			"puppetfile": fs.Lookup("puppetfile"),
		},
	})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ModulePath != "/from/flag" {
		t.Errorf("Expected flag to override env, got %s", cfg.ModulePath)
	}
	if cfg.Puppetfile != "" {
		t.Errorf("Unset flag must not override the default, got %s", cfg.Puppetfile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "Logging.Level"},
		{name: "bad forge url", modify: func(c *Config) { c.Forge.URL = "not a url" }, wantErr: "Forge.URL"},
		{name: "zero timeout", modify: func(c *Config) { c.Forge.Timeout = 0 }, wantErr: "Forge.Timeout"},
		{name: "history without path", modify: func(c *Config) { c.History.Path = "" }, wantErr: "History.Path"},
		{name: "history disabled without path", modify: func(c *Config) { c.History.Enabled = false; c.History.Path = "" }},
		{name: "otlp without endpoint", modify: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: "Tracing.Endpoint"},
		{name: "bad puppet version", modify: func(c *Config) { c.PuppetVersion = "seven" }, wantErr: "PuppetVersion"},
		{name: "good puppet version", modify: func(c *Config) { c.PuppetVersion = "7.24.0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "logging:\n  format: xml\n")

	if _, _, err := Load(LoadOptions{ConfigDir: dir}); err == nil {
		t.Error("Expected validation error")
	}
}

func TestTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Metrics.Textfile = "/tmp/moddeps.prom"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tc := cfg.Telemetry("1.2.3")
	if tc.ServiceVersion != "1.2.3" {
		t.Errorf("ServiceVersion = %s", tc.ServiceVersion)
	}
	if tc.Logging.Format != "json" || tc.Metrics.Textfile != "/tmp/moddeps.prom" {
		t.Errorf("Unexpected telemetry config: %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("Converted config should validate: %v", err)
	}
}
