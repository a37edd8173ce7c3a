package config

import (
	"time"
)

// Config is the resolved moddeps configuration.
type Config struct {
	// ModulePath is the module path to scan and install into. Empty means
	// ask puppet (`puppet config print modulepath`).
	ModulePath string `mapstructure:"modulepath"`

	// Puppetfile is an optional manifest consulted during resolution.
	Puppetfile string `mapstructure:"puppetfile"`

	// PuppetBinary is the puppet executable.
	PuppetBinary string `mapstructure:"puppet_binary" validate:"required"`

	// GitBinary is the git executable used for source-control modules.
	GitBinary string `mapstructure:"git_binary" validate:"required"`

	// PuppetVersion filters Forge releases by their puppet requirement and is
	// recorded in install history.
	PuppetVersion string `mapstructure:"puppet_version" validate:"omitempty,semver"`

	// InstallTimeout bounds each install or upgrade command. Zero disables
	// the limit.
	InstallTimeout time.Duration `mapstructure:"install_timeout" validate:"gte=0"`

	Forge   ForgeConfig   `mapstructure:"forge"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ForgeConfig configures the module registry client.
type ForgeConfig struct {
	// URL is the Forge API base URL.
	URL string `mapstructure:"url" validate:"required,url"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// MaxRetries is the number of retries for failed requests.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

// HistoryConfig configures the install history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
	Caller bool   `mapstructure:"caller"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `mapstructure:"insecure"`
}

// MetricsConfig configures the Prometheus textfile written at exit.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
}
