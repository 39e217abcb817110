// Package config provides unified configuration for the chat relay.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the chat relay.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Site          SiteConfig          `yaml:"site"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings. There is deliberately no write
// timeout: relayed streams last as long as the upstream keeps producing.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10MB
}

// UpstreamConfig holds settings for the chat completions API.
type UpstreamConfig struct {
	BaseURL               string        `yaml:"base_url"`                // default: https://api.openai.com
	APIKey                string        `yaml:"api_key"`                 // required
	APIKeyFile            string        `yaml:"api_key_file"`            // _file variant for api_key
	Model                 string        `yaml:"model"`                   // default: gpt-3.5-turbo
	SystemPrompt          string        `yaml:"system_prompt"`           // optional, overrides the built-in prompt
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"` // default: 60s, 0 disables
}

// SiteConfig holds settings for access to the relay itself.
type SiteConfig struct {
	Password     string `yaml:"password"`      // optional; empty disables the gate
	PasswordFile string `yaml:"password_file"` // _file variant for password
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories, e.g. "upstream,streaming"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OpenTelemetry trace export settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`      // default: false
	Endpoint    string  `yaml:"endpoint"`     // OTLP/HTTP host:port; empty uses OTEL_EXPORTER_OTLP_ENDPOINT
	Insecure    bool    `yaml:"insecure"`     // plain HTTP to the collector
	ServiceName string  `yaml:"service_name"` // default: "chatrelay"
	SampleRatio float64 `yaml:"sample_ratio"` // default: 1.0
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Upstream: UpstreamConfig{
			BaseURL:               "https://api.openai.com",
			Model:                 "gpt-3.5-turbo",
			ResponseHeaderTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName: "chatrelay",
				SampleRatio: 1.0,
			},
		},
	}
}
