package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"logingest/internal/job"
	"logingest/pkg/logx"
)

func newTestEngine(t *testing.T, tz string, onFire func(string)) *Engine {
	t.Helper()
	e, err := New(Config{Timezone: tz}, logx.Nop(), onFire)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestValidateExpressions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)

	tests := []struct {
		name    string
		spec    string
		tz      string
		wantErr bool
	}{
		{name: "every five minutes", spec: "*/5 * * * *"},
		{name: "daily", spec: "0 3 * * *"},
		{name: "ranges and lists", spec: "0,30 9-17 * * 1-5"},
		{name: "with job timezone", spec: "0 8 * * *", tz: "Asia/Jakarta"},
		{name: "six fields", spec: "0 0 3 * * *", wantErr: true},
		{name: "descriptor", spec: "@hourly", wantErr: true},
		{name: "out of range minute", spec: "61 * * * *", wantErr: true},
		{name: "garbage", spec: "not a cron", wantErr: true},
		{name: "bad job timezone", spec: "0 8 * * *", tz: "Mars/Olympus", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate("j", tt.spec, tt.tz)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err != nil {
				var serr *ScheduleError
				if !errors.As(err, &serr) {
					t.Fatalf("error type = %T, want *ScheduleError", err)
				}
			}
		})
	}
}

func TestScheduleDuplicate(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)
	spec := job.Spec{Name: "dup", Schedule: "* * * * *"}
	if err := e.Schedule(spec); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	if err := e.Schedule(spec); err == nil {
		t.Fatal("expected error on duplicate schedule")
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)
	err := e.Schedule(job.Spec{Name: "bad", Schedule: "@reboot"})
	if err == nil {
		t.Fatal("expected error")
	}
	var serr *ScheduleError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T, want *ScheduleError", err)
	}
	if serr.Job != "bad" {
		t.Fatalf("ScheduleError.Job = %q", serr.Job)
	}
}

func TestNextFireTimeBeforeStart(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)
	if err := e.Schedule(job.Spec{Name: "hourly", Schedule: "0 * * * *"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	next, ok := e.NextFireTime("hourly")
	if !ok {
		t.Fatal("NextFireTime: job not found")
	}
	if next.Minute() != 0 {
		t.Fatalf("next fire minute = %d, want 0", next.Minute())
	}
	if until := time.Until(next); until <= 0 || until > time.Hour {
		t.Fatalf("next fire %v not within the coming hour", next)
	}

	if _, ok := e.NextFireTime("missing"); ok {
		t.Fatal("NextFireTime returned ok for unknown job")
	}
}

func TestNextFireTimeTimezone(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)
	// 08:00 in Jakarta is 01:00 UTC.
	if err := e.Schedule(job.Spec{Name: "jkt", Schedule: "0 8 * * *", Timezone: "Asia/Jakarta"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	next, ok := e.NextFireTime("jkt")
	if !ok {
		t.Fatal("job not found")
	}
	if got := next.UTC().Hour(); got != 1 {
		t.Fatalf("next fire UTC hour = %d, want 1", got)
	}
}

func TestUnscheduleStopsFires(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", nil)
	if err := e.Schedule(job.Spec{Name: "gone", Schedule: "* * * * *"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	e.Unschedule("gone")
	if _, ok := e.NextFireTime("gone"); ok {
		t.Fatal("unscheduled job still has a next fire time")
	}
	// Unschedule of an unknown name is a no-op.
	e.Unschedule("never-existed")
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "UTC", func(string) {})
	e.Start()
	e.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.Stop(ctx)
	e.Stop(ctx)
}

func TestNames(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, "", nil)
	for _, n := range []string{"a", "b"} {
		if err := e.Schedule(job.Spec{Name: n, Schedule: "* * * * *"}); err != nil {
			t.Fatalf("Schedule(%s): %v", n, err)
		}
	}
	names := e.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}
