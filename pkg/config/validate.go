package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Upstream.APIKey == "" {
		errs = append(errs, fmt.Errorf("upstream.api_key is required"))
	}

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url must be an absolute http(s) URL, got %q", c.Upstream.BaseURL))
	}

	if c.Upstream.ResponseHeaderTimeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.response_header_timeout must be >= 0, got %s", c.Upstream.ResponseHeaderTimeout))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	if t := c.Observability.Tracing; t.Enabled {
		if t.SampleRatio < 0 || t.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("observability.tracing.sample_ratio must be between 0 and 1, got %v", t.SampleRatio))
		}
		if t.ServiceName == "" {
			errs = append(errs, fmt.Errorf("observability.tracing.service_name is required when tracing is enabled"))
		}
	}

	return errors.Join(errs...)
}
