// Package job holds the core scheduling types shared by the trigger engine,
// the execution coordinator and the registry.
package job

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Unit is the opaque unit of work a job executes. The core never looks
// inside it: fetch, transform and store are the unit's business.
type Unit interface {
	// Execute performs one run and reports how many records it processed.
	// It must honor ctx cancellation; the coordinator stops waiting for it
	// at the deadline but cannot force-kill it.
	Execute(ctx context.Context) (records int, err error)
}

// UnitFunc adapts a plain function to the Unit interface.
type UnitFunc func(ctx context.Context) (int, error)

func (f UnitFunc) Execute(ctx context.Context) (int, error) { return f(ctx) }

// RetryPolicy controls re-execution after a failed or timed-out attempt.
//
// Attempt 1 is immediate. Attempt k (k >= 2) waits
// BaseDelay * Backoff^(k-2) before running.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     float64
}

// Delay returns the wait before the given attempt (1-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	backoff := p.Backoff
	if backoff < 1 {
		backoff = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(backoff, float64(attempt-2)))
}

// Validate checks policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry: base delay must be >= 0")
	}
	if p.MaxAttempts > 1 && p.Backoff < 1 {
		return fmt.Errorf("retry: backoff multiplier must be >= 1, got %g", p.Backoff)
	}
	return nil
}

// Spec describes one scheduled job. Immutable once registered except for
// Enabled, which the registry flips when config changes.
type Spec struct {
	Name     string
	Schedule string // 5-field cron: minute hour dom month dow
	Timezone string // IANA name; empty means the engine default
	Timeout  time.Duration
	Retry    RetryPolicy
	Enabled  bool
	Unit     Unit
}

// Validate checks everything except the cron expression, which the trigger
// engine owns.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(s.Schedule) == "" {
		return fmt.Errorf("job %q: schedule is required", s.Name)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("job %q: invalid timezone %q: %w", s.Name, s.Timezone, err)
		}
	}
	if s.Timeout < 0 {
		return fmt.Errorf("job %q: timeout must be >= 0", s.Name)
	}
	if err := s.Retry.Validate(); err != nil {
		return fmt.Errorf("job %q: %w", s.Name, err)
	}
	if s.Unit == nil {
		return fmt.Errorf("job %q: unit of work is required", s.Name)
	}
	return nil
}
