package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root of the YAML configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m").
// Values may reference environment variables as ${VAR} or ${VAR:-default};
// substitution happens before parsing.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`
	Sources   []SourceSpec    `json:"sources"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console *bool      `json:"console,omitempty"` // nil means true
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ConsoleEnabled resolves the console flag, defaulting to on.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// SchedulerConfig controls the trigger engine and the coordinator.
//
// Defaults (when fields are omitted/zero):
//   - timezone: host local time
//   - max_parallel_jobs: 3
//   - default_timeout: "0s" (disabled)
//   - grace_period: "30s"
type SchedulerConfig struct {
	Timezone        string `json:"timezone,omitempty"`
	MaxParallelJobs int    `json:"max_parallel_jobs,omitempty"`
	DefaultTimeout  string `json:"default_timeout,omitempty"`
	GracePeriod     string `json:"grace_period,omitempty"`
}

// StorageConfig selects the log store backend.
//
// Example:
//
//	storage: { driver: "postgres", conn: "${DB_DSN}" }
//	storage: { driver: "sqlite", path: "./logingest.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Conn        string `json:"conn,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MonitorConfig controls the optional read-only status endpoint.
//
// Prefer binding to localhost; the endpoint has no authentication.
type MonitorConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
}

// SourceSpec describes one data source and its schedule.
type SourceSpec struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Schedule   string            `json:"schedule"`
	Timezone   string            `json:"timezone,omitempty"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Product    string            `json:"product,omitempty"`
	EventType  string            `json:"event_type,omitempty"`
	Severity   string            `json:"severity,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	RatePerSec int               `json:"rate_per_sec,omitempty"`
	Retry      RetryConfig       `json:"retry,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"` // nil means true
}

// IsEnabled resolves the enabled flag, defaulting to true (original config
// convention: sources are on unless switched off).
func (s SourceSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RetryConfig mirrors job.RetryPolicy in config form.
//
// Defaults: max_attempts 1, base_delay "30s", backoff 2.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	BaseDelay   string  `json:"base_delay,omitempty"`
	Backoff     float64 `json:"backoff,omitempty"`
}

// Validate checks everything that does not require the cron parser; schedule
// expressions are validated by the trigger engine before startup completes.
func (c *Config) Validate() error {
	if c.Scheduler.MaxParallelJobs < 0 {
		return fmt.Errorf("scheduler.max_parallel_jobs must be >= 0")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.grace_period", c.Scheduler.GracePeriod); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, s := range c.Sources {
		at := fmt.Sprintf("sources[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate source name %q", at, name)
		}
		seen[name] = true
		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("%s (%s): type is required", at, name)
		}
		if strings.TrimSpace(s.Schedule) == "" {
			return fmt.Errorf("%s (%s): schedule is required", at, name)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("%s (%s): timezone: %w", at, name, err)
			}
		}
		if _, err := ParseDurationField(at+".timeout", s.Timeout); err != nil {
			return err
		}
		if _, err := ParseDurationField(at+".retry.base_delay", s.Retry.BaseDelay); err != nil {
			return err
		}
		if s.Retry.MaxAttempts < 0 {
			return fmt.Errorf("%s (%s): retry.max_attempts must be >= 0", at, name)
		}
		if s.Retry.MaxAttempts > 1 && s.Retry.Backoff != 0 && s.Retry.Backoff < 1 {
			return fmt.Errorf("%s (%s): retry.backoff must be >= 1", at, name)
		}
		if s.RatePerSec < 0 {
			return fmt.Errorf("%s (%s): rate_per_sec must be >= 0", at, name)
		}
	}
	return nil
}
