package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"logingest/internal/eventbus"
	"logingest/internal/job"
	"logingest/pkg/logx"
)

// Config controls the coordinator.
type Config struct {
	// MaxParallel bounds in-flight attempts across all jobs combined.
	MaxParallel int
	// DefaultTimeout applies to jobs whose spec leaves Timeout zero.
	// Zero disables the default.
	DefaultTimeout time.Duration
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	sem *semaphore.Weighted

	mu      sync.Mutex
	runners map[string]*runner
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool

	// fireWG counts pending and in-flight fires; Drain waits on it.
	fireWG sync.WaitGroup

	smu   sync.Mutex
	stats map[string]*job.Stats

	// nextFire, when set, resolves a job's next scheduled time for
	// snapshots. Wired to the trigger engine by the app layer.
	nextFire func(name string) (time.Time, bool)
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		sem:     semaphore.NewWeighted(int64(cfg.MaxParallel)),
		runners: map[string]*runner{},
		stats:   map[string]*job.Stats{},
	}
}

// SetNextFireLookup installs the next-fire resolver used by Snapshot.
func (s *Service) SetNextFireLookup(fn func(name string) (time.Time, bool)) {
	s.smu.Lock()
	s.nextFire = fn
	s.smu.Unlock()
}

// Register adds a job. If the coordinator is running, the job's runner
// starts immediately.
func (s *Service) Register(spec job.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runners[spec.Name]; ok {
		return ErrAlreadyRegistered
	}
	r := newRunner(s, spec)
	s.runners[spec.Name] = r
	if s.started {
		go r.loop(s.runCtx)
	}

	s.smu.Lock()
	if _, ok := s.stats[spec.Name]; !ok {
		s.stats[spec.Name] = &job.Stats{Job: spec.Name}
	}
	s.smu.Unlock()
	return nil
}

// Unregister removes a job. Already-queued fires still complete; stats are
// kept for the process lifetime.
func (s *Service) Unregister(name string) error {
	s.mu.Lock()
	r, ok := s.runners[name]
	if ok {
		delete(s.runners, name)
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	r.close()
	return nil
}

// OnFire is invoked by the trigger engine for each due job. It only appends
// to the job's pending FIFO and returns; it never blocks the timer loop.
func (s *Service) OnFire(name string) {
	s.mu.Lock()
	r := s.runners[name]
	s.mu.Unlock()
	if r == nil {
		s.log.Warn("fire for unknown job dropped", logx.String("job", name))
		return
	}

	s.fireWG.Add(1)
	if !r.enqueue(time.Now()) {
		s.fireWG.Done()
		return
	}

	s.smu.Lock()
	if st := s.stats[name]; st != nil {
		st.TotalFires++
	}
	s.smu.Unlock()
	s.log.Debug("fire queued", logx.String("job", name))
}

// Start launches the per-job runners. Fires received before Start stay
// queued until the runners come up.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	for _, r := range s.runners {
		go r.loop(s.runCtx)
	}
	s.log.Info("coordinator started",
		logx.Int("max_parallel", s.cfg.MaxParallel),
		logx.Int("jobs", len(s.runners)))
}

// Drain waits for all pending and in-flight fires to finish, bounded by ctx.
// Returns ctx.Err() when the bound was hit.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the run context: waiting admissions abort at once, in-flight
// work receives cancellation and is abandoned if it ignores it.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	s.log.Info("coordinator stopped")
}

// Stats returns a snapshot for one job.
func (s *Service) Stats(name string) (job.Stats, bool) {
	s.smu.Lock()
	defer s.smu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		return job.Stats{}, false
	}
	out := *st
	if s.nextFire != nil {
		if next, ok := s.nextFire(name); ok {
			out.NextFire = &next
		}
	}
	return out, true
}

// Snapshot returns stats for every known job, sorted by name.
func (s *Service) Snapshot() []job.Stats {
	s.smu.Lock()
	defer s.smu.Unlock()
	out := make([]job.Stats, 0, len(s.stats))
	for _, st := range s.stats {
		cp := *st
		if s.nextFire != nil {
			if next, ok := s.nextFire(cp.Job); ok {
				cp.NextFire = &next
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
