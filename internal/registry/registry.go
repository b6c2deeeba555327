// Package registry owns the live job set: the mapping from job name to its
// spec and unit of work. Mutations propagate to the trigger engine and the
// execution coordinator.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"logingest/internal/dispatch"
	"logingest/internal/job"
	"logingest/internal/trigger"
	"logingest/pkg/logx"
)

// ErrDuplicateJob is returned when two specs share a name. Fatal to Load.
var ErrDuplicateJob = errors.New("registry: duplicate job name")

// ErrUnknownJob is returned by Remove for names not in the live set.
var ErrUnknownJob = errors.New("registry: unknown job")

type Registry struct {
	log  logx.Logger
	trig *trigger.Engine
	disp *dispatch.Service

	mu   sync.Mutex
	jobs map[string]job.Spec
}

func New(log logx.Logger, trig *trigger.Engine, disp *dispatch.Service) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:  log,
		trig: trig,
		disp: disp,
		jobs: map[string]job.Spec{},
	}
}

// Load builds the live set from already-validated specs, skipping disabled
// entries. Any failure aborts the whole load so startup can fail fast.
func (r *Registry) Load(specs []job.Spec) error {
	seen := map[string]bool{}
	for _, s := range specs {
		if seen[s.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateJob, s.Name)
		}
		seen[s.Name] = true
	}
	for _, s := range specs {
		if !s.Enabled {
			r.log.Info("skipping disabled job", logx.String("job", s.Name))
			continue
		}
		if err := r.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// Add validates, registers with the coordinator first (so a fire can never
// reach an unknown job), then schedules the trigger.
func (r *Registry) Add(s job.Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.jobs[s.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateJob, s.Name)
	}
	r.jobs[s.Name] = s
	r.mu.Unlock()

	if err := r.disp.Register(s); err != nil {
		r.forget(s.Name)
		return err
	}
	if err := r.trig.Schedule(s); err != nil {
		_ = r.disp.Unregister(s.Name)
		r.forget(s.Name)
		return err
	}
	r.log.Info("job registered",
		logx.String("job", s.Name),
		logx.String("schedule", s.Schedule))
	return nil
}

// Remove unschedules the job and lets any already-queued fires complete.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	_, ok := r.jobs[name]
	if ok {
		delete(r.jobs, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	r.trig.Unschedule(name)
	_ = r.disp.Unregister(name)
	r.log.Info("job removed", logx.String("job", name))
	return nil
}

// Jobs returns the live specs sorted by name.
func (r *Registry) Jobs() []job.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]job.Spec, 0, len(r.jobs))
	for _, s := range r.jobs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a job is in the live set.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[name]
	return ok
}

func (r *Registry) forget(name string) {
	r.mu.Lock()
	delete(r.jobs, name)
	r.mu.Unlock()
}
