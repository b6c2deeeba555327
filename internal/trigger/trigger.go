// Package trigger wraps robfig/cron behind the engine contract the rest of
// the core uses: schedule, unschedule, next-fire lookup. It only emits fire
// events; execution happens elsewhere and can never block the timer loop.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"logingest/internal/job"
	"logingest/pkg/logx"
)

// ScheduleError reports a cron expression rejected at registration time.
type ScheduleError struct {
	Job  string
	Spec string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("job %q: invalid schedule %q: %v", e.Job, e.Spec, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

type Config struct {
	Timezone string // IANA TZ applied to jobs without their own
}

type entryRec struct {
	id    cron.EntryID
	sched cron.Schedule
}

// Engine owns the cron runner. The onFire callback must return quickly; it
// runs on the cron goroutine.
type Engine struct {
	mu      sync.Mutex
	log     logx.Logger
	loc     *time.Location
	parser  cron.Parser
	c       *cron.Cron
	onFire  func(name string)
	entries map[string]entryRec
	started bool
}

// New builds an engine in the configured timezone. An empty timezone means
// the host's local time.
func New(cfg Config, log logx.Logger, onFire func(name string)) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("trigger: invalid timezone %q: %w", tz, err)
		}
		loc = l
	}
	// Strict 5-field crontab syntax: minute hour dom month dow.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	e := &Engine{
		log:     log,
		loc:     loc,
		parser:  parser,
		onFire:  onFire,
		entries: map[string]entryRec{},
	}
	e.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	return e, nil
}

// Validate parses the expression (and per-job timezone) without registering
// anything. Used by config validation so bad schedules are caught before
// startup completes.
func (e *Engine) Validate(name, spec, timezone string) error {
	if _, err := e.parser.Parse(composeSpec(spec, timezone)); err != nil {
		return &ScheduleError{Job: name, Spec: spec, Err: err}
	}
	return nil
}

// Schedule registers a job and begins computing fire times from now.
func (e *Engine) Schedule(s job.Spec) error {
	sched, err := e.parser.Parse(composeSpec(s.Schedule, s.Timezone))
	if err != nil {
		return &ScheduleError{Job: s.Name, Spec: s.Schedule, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[s.Name]; ok {
		return fmt.Errorf("trigger: job %q already scheduled", s.Name)
	}
	name := s.Name
	id := e.c.Schedule(sched, cron.FuncJob(func() {
		if e.onFire != nil {
			e.onFire(name)
		}
	}))
	e.entries[name] = entryRec{id: id, sched: sched}
	e.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", s.Schedule))
	return nil
}

// Unschedule removes a job. An already-emitted fire is unaffected and will
// still be executed.
func (e *Engine) Unschedule(name string) {
	e.mu.Lock()
	rec, ok := e.entries[name]
	if ok {
		delete(e.entries, name)
	}
	e.mu.Unlock()
	if ok {
		e.c.Remove(rec.id)
		e.log.Debug("job unscheduled", logx.String("job", name))
	}
}

// NextFireTime returns the next computed fire time for a scheduled job.
func (e *Engine) NextFireTime(name string) (time.Time, bool) {
	e.mu.Lock()
	rec, ok := e.entries[name]
	started := e.started
	e.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	if started {
		if ent := e.c.Entry(rec.id); ent.Valid() && !ent.Next.IsZero() {
			return ent.Next, true
		}
	}
	return rec.sched.Next(time.Now().In(e.loc)), true
}

// Names returns the currently scheduled job names.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.entries))
	for n := range e.entries {
		out = append(out, n)
	}
	return out
}

// Start begins emitting fire events.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	n := len(e.entries)
	e.mu.Unlock()
	e.c.Start()
	e.log.Info("trigger engine started", logx.String("tz", e.loc.String()), logx.Int("schedules", n))
}

// Stop halts fire emission immediately. It waits (bounded by ctx) for any
// callback currently running on the cron goroutine, which is cheap because
// callbacks only enqueue.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	select {
	case <-e.c.Stop().Done():
	case <-ctx.Done():
	}
	e.log.Info("trigger engine stopped")
}

// composeSpec prepends a CRON_TZ prefix when the job carries its own
// timezone; robfig/cron resolves it during parsing.
func composeSpec(spec, timezone string) string {
	tz := strings.TrimSpace(timezone)
	if tz == "" {
		return spec
	}
	return "CRON_TZ=" + tz + " " + spec
}
