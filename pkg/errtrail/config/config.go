// Package config loads errtrail pipeline configuration from YAML files and
// watches them for changes.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/errtrail/errtrail/pkg/errtrail"
)

// Config is the on-disk pipeline configuration.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	// Enabled toggles capture globally. Defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	Environment string `yaml:"environment,omitempty"`
	Release     string `yaml:"release,omitempty"`

	// Adapter names the adapter to activate at startup.
	Adapter string        `yaml:"adapter,omitempty"`
	DSN     string        `yaml:"dsn,omitempty"`
	Debug   bool          `yaml:"debug,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`

	Filter   FilterConfig   `yaml:"filter"`
	Queue    QueueConfig    `yaml:"queue"`
	Sanitize SanitizeConfig `yaml:"sanitize"`
	Logging  LoggingConfig  `yaml:"logging"`

	MaxBreadcrumbs int     `yaml:"max_breadcrumbs,omitempty"`
	RateLimit      float64 `yaml:"rate_limit,omitempty"`
}

// FilterConfig maps onto the delivery policy.
type FilterConfig struct {
	MinLevel       string   `yaml:"min_level,omitempty"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`

	// SampleRate is a pointer so an explicit 0 (drop everything) is
	// distinguishable from an omitted field (keep everything).
	SampleRate *float64 `yaml:"sample_rate,omitempty"`
}

// QueueConfig tunes the offline retry queue.
type QueueConfig struct {
	Disabled   bool   `yaml:"disabled,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	RetryDelay string `yaml:"retry_delay,omitempty"`

	// PruneSchedule is a cron expression; items older than PruneMaxAge are
	// dropped on each tick.
	PruneSchedule string `yaml:"prune_schedule,omitempty"`
	PruneMaxAge   string `yaml:"prune_max_age,omitempty"`
}

// SanitizeConfig controls PII scrubbing.
type SanitizeConfig struct {
	ScrubPII       bool     `yaml:"scrub_pii,omitempty"`
	RedactedFields []string `yaml:"redacted_fields,omitempty"`
	MaxMessageSize int      `yaml:"max_message_size,omitempty"`
}

// LoggingConfig controls the pipeline's own diagnostic logging.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates raw YAML. Unknown fields are rejected so
// typos fail loudly instead of silently defaulting.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field values without applying them.
func (c *Config) Validate() error {
	if c.Filter.MinLevel != "" {
		if _, err := errtrail.ParseLevel(c.Filter.MinLevel); err != nil {
			return fmt.Errorf("filter.min_level: %w", err)
		}
	}
	if c.Filter.SampleRate != nil {
		if r := *c.Filter.SampleRate; r < 0 || r > 1 {
			return fmt.Errorf("filter.sample_rate %v out of range [0,1]", r)
		}
	}
	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("queue.max_size must be >= 0")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	for _, field := range []struct{ name, val string }{
		{"queue.retry_delay", c.Queue.RetryDelay},
		{"queue.prune_max_age", c.Queue.PruneMaxAge},
	} {
		if field.val == "" {
			continue
		}
		if _, err := time.ParseDuration(field.val); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0")
	}
	return nil
}

// Policy builds the delivery policy described by the filter block.
func (c *Config) Policy() (*errtrail.Policy, error) {
	p := errtrail.DefaultPolicy()
	if c.Filter.MinLevel != "" {
		lvl, err := errtrail.ParseLevel(c.Filter.MinLevel)
		if err != nil {
			return nil, err
		}
		p.MinLevel = lvl
	}
	p.IgnorePatterns = append(p.IgnorePatterns, c.Filter.IgnorePatterns...)
	if c.Filter.SampleRate != nil {
		p.SampleRate = *c.Filter.SampleRate
	}
	return p, nil
}

// PipelineOptions expands the config into pipeline options. The caller
// appends storage, monitor, and adapter factories.
func (c *Config) PipelineOptions() ([]errtrail.Option, error) {
	policy, err := c.Policy()
	if err != nil {
		return nil, err
	}
	opts := []errtrail.Option{
		errtrail.WithEnvironment(c.Environment),
		errtrail.WithRelease(c.Release),
		errtrail.WithPolicy(policy),
		errtrail.WithSanitize(errtrail.SanitizeConfig{
			ScrubPII:       c.Sanitize.ScrubPII,
			RedactedFields: c.Sanitize.RedactedFields,
			MaxMessageSize: c.Sanitize.MaxMessageSize,
		}),
	}
	if c.MaxBreadcrumbs > 0 {
		opts = append(opts, errtrail.WithMaxBreadcrumbs(c.MaxBreadcrumbs))
	}
	if c.RateLimit > 0 {
		opts = append(opts, errtrail.WithRateLimit(c.RateLimit))
	}
	if c.Queue.Disabled {
		opts = append(opts, errtrail.WithoutQueue())
	} else {
		if c.Queue.MaxSize > 0 {
			opts = append(opts, errtrail.WithQueueSize(c.Queue.MaxSize))
		}
		if c.Queue.MaxRetries > 0 {
			opts = append(opts, errtrail.WithMaxRetries(c.Queue.MaxRetries))
		}
		if c.Queue.RetryDelay != "" {
			d, _ := time.ParseDuration(c.Queue.RetryDelay)
			opts = append(opts, errtrail.WithRetryDelay(d))
		}
		if c.Queue.PruneSchedule != "" {
			maxAge := 7 * 24 * time.Hour
			if c.Queue.PruneMaxAge != "" {
				maxAge, _ = time.ParseDuration(c.Queue.PruneMaxAge)
			}
			opts = append(opts, errtrail.WithPruneSchedule(c.Queue.PruneSchedule, maxAge))
		}
	}
	return opts, nil
}

// AdapterConfig builds the adapter configuration described by the top-level
// adapter fields.
func (c *Config) AdapterConfig() errtrail.AdapterConfig {
	return errtrail.AdapterConfig{
		DSN:         c.DSN,
		Environment: c.Environment,
		Release:     c.Release,
		Debug:       c.Debug,
		Options:     cloneOptions(c.Options),
	}
}

func cloneOptions(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
