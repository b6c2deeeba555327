package registry

import (
	"context"
	"errors"
	"testing"

	"logingest/internal/dispatch"
	"logingest/internal/job"
	"logingest/internal/trigger"
	"logingest/pkg/logx"
)

func newTestRegistry(t *testing.T) (*Registry, *trigger.Engine, *dispatch.Service) {
	t.Helper()
	disp := dispatch.New(dispatch.Config{MaxParallel: 2}, logx.Nop(), nil)
	trig, err := trigger.New(trigger.Config{Timezone: "UTC"}, logx.Nop(), disp.OnFire)
	if err != nil {
		t.Fatalf("trigger.New: %v", err)
	}
	return New(logx.Nop(), trig, disp), trig, disp
}

func noopSpec(name, schedule string) job.Spec {
	return job.Spec{
		Name:     name,
		Schedule: schedule,
		Retry:    job.RetryPolicy{MaxAttempts: 1},
		Enabled:  true,
		Unit:     job.UnitFunc(func(ctx context.Context) (int, error) { return 0, nil }),
	}
}

func TestAddRemove(t *testing.T) {
	t.Parallel()
	r, trig, _ := newTestRegistry(t)

	if err := r.Add(noopSpec("a", "*/5 * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !r.Has("a") {
		t.Fatal("Has(a) = false after Add")
	}
	if _, ok := trig.NextFireTime("a"); !ok {
		t.Fatal("job not scheduled with trigger engine")
	}

	if err := r.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Has("a") {
		t.Fatal("Has(a) = true after Remove")
	}
	if _, ok := trig.NextFireTime("a"); ok {
		t.Fatal("job still scheduled after Remove")
	}

	if err := r.Remove("a"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("second Remove error = %v, want ErrUnknownJob", err)
	}
}

func TestAddDuplicate(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t)
	if err := r.Add(noopSpec("dup", "* * * * *")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(noopSpec("dup", "* * * * *")); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate Add error = %v, want ErrDuplicateJob", err)
	}
}

func TestAddRollsBackOnBadSchedule(t *testing.T) {
	t.Parallel()
	r, trig, disp := newTestRegistry(t)

	err := r.Add(noopSpec("bad", "@every 5m"))
	if err == nil {
		t.Fatal("expected schedule error")
	}
	var serr *trigger.ScheduleError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T", err)
	}
	if r.Has("bad") {
		t.Fatal("failed Add left the job in the live set")
	}
	if _, ok := trig.NextFireTime("bad"); ok {
		t.Fatal("failed Add left a schedule behind")
	}
	// The coordinator registration must be rolled back too, so a later add
	// of the same name can succeed.
	if err := disp.Register(noopSpec("bad", "* * * * *")); err != nil {
		t.Fatalf("coordinator still holds rolled-back job: %v", err)
	}
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t)
	bad := noopSpec("nounit", "* * * * *")
	bad.Unit = nil
	if err := r.Add(bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadSkipsDisabledAndRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t)

	off := noopSpec("off", "* * * * *")
	off.Enabled = false
	if err := r.Load([]job.Spec{noopSpec("on", "* * * * *"), off}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !r.Has("on") || r.Has("off") {
		t.Fatalf("live set = %v", r.Jobs())
	}

	r2, _, _ := newTestRegistry(t)
	err := r2.Load([]job.Spec{noopSpec("x", "* * * * *"), noopSpec("x", "* * * * *")})
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("Load duplicate error = %v", err)
	}
}

func TestJobsSorted(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t)
	for _, n := range []string{"charlie", "alpha", "bravo"} {
		if err := r.Add(noopSpec(n, "* * * * *")); err != nil {
			t.Fatalf("Add(%s): %v", n, err)
		}
	}
	jobs := r.Jobs()
	want := []string{"alpha", "bravo", "charlie"}
	for i, j := range jobs {
		if j.Name != want[i] {
			t.Fatalf("Jobs() order = %v", jobs)
		}
	}
}
