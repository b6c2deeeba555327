package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"logingest/internal/eventbus"
	"logingest/internal/job"
	"logingest/pkg/logx"
)

// runner serializes all fires of one job: it drains a FIFO of pending fire
// times, so the job has at most one in-flight attempt and fires run in
// order. Enqueue never drops and never blocks.
type runner struct {
	svc  *Service
	spec job.Spec

	mu      sync.Mutex
	pending []time.Time
	closed  bool
	wake    chan struct{}
}

func newRunner(s *Service, spec job.Spec) *runner {
	return &runner{svc: s, spec: spec, wake: make(chan struct{}, 1)}
}

// enqueue appends a fire. Returns false if the runner was already closed.
func (r *runner) enqueue(at time.Time) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.pending = append(r.pending, at)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting new fires; the loop exits once the backlog drains.
func (r *runner) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) loop(ctx context.Context) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			firedAt := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			r.svc.execFire(ctx, r.spec, firedAt)
			r.svc.fireWG.Done()
			continue
		}
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			r.abandonPending()
			return
		case <-r.wake:
		}
	}
}

// abandonPending drops whatever is still queued after the run context is
// cancelled and balances fireWG so a later Drain cannot hang.
func (r *runner) abandonPending() {
	r.mu.Lock()
	n := len(r.pending)
	r.pending = nil
	r.closed = true
	r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.svc.recordRun(job.Run{
			Job:     r.spec.Name,
			Attempt: 0,
			Started: time.Now(),
			Outcome: job.OutcomeCancelled,
			Error:   "shutdown before admission",
		})
		r.svc.fireWG.Done()
	}
}

// execFire runs one fire end to end: admission, timeout-bounded execution,
// retry with backoff, recording. Errors never escape to the trigger engine.
func (s *Service) execFire(ctx context.Context, spec job.Spec, firedAt time.Time) {
	maxAttempts := spec.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if delay := spec.Retry.Delay(attempt); delay > 0 {
				// The slot was already released; only this job waits.
				tmr := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					tmr.Stop()
					s.recordRun(job.Run{
						Job: spec.Name, Attempt: attempt, Started: time.Now(),
						Outcome: job.OutcomeCancelled, Error: ctx.Err().Error(),
					})
					return
				case <-tmr.C:
				}
			}
		}

		// Admission: one slot from the global pool per attempt.
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.recordRun(job.Run{
				Job: spec.Name, Attempt: attempt, Started: time.Now(),
				Outcome: job.OutcomeCancelled, Error: err.Error(),
			})
			return
		}
		run := s.runAttempt(ctx, spec, attempt)
		s.sem.Release(1)

		s.recordRun(run)
		switch run.Outcome {
		case job.OutcomeSuccess, job.OutcomeCancelled:
			return
		}
		lastErr = run.Error
	}

	s.recordExhausted(spec.Name, maxAttempts, lastErr)
}

// runAttempt executes the unit of work once under the job's timeout. If the
// deadline passes, the attempt is marked timeout and the work is abandoned;
// the unit keeps its cancellation signal but nobody waits for it.
func (s *Service) runAttempt(ctx context.Context, spec job.Spec, attempt int) job.Run {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	s.publish(eventbus.TypeJobStarted, job.Run{Job: spec.Name, Attempt: attempt, Started: started})

	records, err := execUnit(runCtx, spec.Unit)
	run := job.Run{
		Job:      spec.Name,
		Attempt:  attempt,
		Started:  started,
		Duration: time.Since(started),
		Records:  records,
	}
	switch {
	case err == nil:
		run.Outcome = job.OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		run.Outcome = job.OutcomeTimeout
		run.Error = fmt.Sprintf("deadline exceeded after %s", timeout)
	case errors.Is(err, context.Canceled):
		run.Outcome = job.OutcomeCancelled
		run.Error = err.Error()
	default:
		run.Outcome = job.OutcomeFailure
		run.Error = err.Error()
	}
	return run
}

// execUnit runs the unit on its own goroutine so a deadline can abandon it.
// Panics are converted to errors; one bad source must not take down the
// coordinator.
func execUnit(ctx context.Context, u job.Unit) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{0, fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		n, err := u.Execute(ctx)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Service) recordRun(run job.Run) {
	s.smu.Lock()
	if st := s.stats[run.Job]; st != nil {
		started := run.Started
		st.LastRun = &started
		st.LastOutcome = run.Outcome
		st.LastRecords = run.Records
		if run.Outcome == job.OutcomeSuccess {
			st.TotalSuccesses++
		}
		if run.Error != "" {
			st.LastError = run.Error
		}
	}
	s.smu.Unlock()

	switch run.Outcome {
	case job.OutcomeSuccess:
		s.publish(eventbus.TypeJobCompleted, run)
		s.log.Info("job run completed",
			logx.String("job", run.Job),
			logx.Int("attempt", run.Attempt),
			logx.Duration("dur", run.Duration),
			logx.Int("records", run.Records))
	case job.OutcomeCancelled:
		s.publish(eventbus.TypeJobFailed, run)
		s.log.Warn("job run cancelled",
			logx.String("job", run.Job),
			logx.Int("attempt", run.Attempt),
			logx.String("err", run.Error))
	default:
		s.publish(eventbus.TypeJobFailed, run)
		s.log.Warn("job run failed",
			logx.String("job", run.Job),
			logx.Int("attempt", run.Attempt),
			logx.Duration("dur", run.Duration),
			logx.String("outcome", string(run.Outcome)),
			logx.String("err", run.Error))
	}
}

func (s *Service) recordExhausted(name string, attempts int, lastErr string) {
	s.smu.Lock()
	if st := s.stats[name]; st != nil {
		st.TotalFailures++
	}
	s.smu.Unlock()

	err := fmt.Errorf("%w after %d attempts: %s", ErrRetriesExhausted, attempts, lastErr)
	s.publish(eventbus.TypeJobExhausted, job.Run{
		Job: name, Attempt: attempts, Started: time.Now(),
		Outcome: job.OutcomeFailure, Error: err.Error(),
	})
	s.log.Error("job fire failed",
		logx.String("job", name),
		logx.Int("attempts", attempts),
		logx.String("last_err", lastErr))
}

func (s *Service) publish(typ string, run job.Run) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: run})
	}
}
