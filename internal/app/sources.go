package app

import (
	"fmt"
	"reflect"
	"time"

	"logingest/internal/config"
	"logingest/internal/job"
	"logingest/pkg/logx"
)

const (
	defaultRetryBase    = 30 * time.Second
	defaultRetryBackoff = 2.0
)

// buildSpecs turns configured sources into job specs, constructing each
// source's unit. Disabled sources are built too so their config is
// validated; the registry skips scheduling them.
func (a *App) buildSpecs(cfg *config.Config) ([]job.Spec, error) {
	specs := make([]job.Spec, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		spec, err := a.specFromSource(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	a.mu.Lock()
	a.curSources = indexSources(cfg.Sources)
	a.mu.Unlock()
	return specs, nil
}

func (a *App) specFromSource(s config.SourceSpec) (job.Spec, error) {
	at := fmt.Sprintf("source %q", s.Name)

	unit, err := a.sources.Build(s, a.store, a.log.With(logx.String("comp", "source")))
	if err != nil {
		return job.Spec{}, err
	}
	timeout, err := config.ParseDurationOrDefault(at+": timeout", s.Timeout, 0)
	if err != nil {
		return job.Spec{}, err
	}
	base, err := config.ParseDurationOrDefault(at+": retry.base_delay", s.Retry.BaseDelay, defaultRetryBase)
	if err != nil {
		return job.Spec{}, err
	}
	attempts := s.Retry.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	backoff := s.Retry.Backoff
	if backoff == 0 {
		backoff = defaultRetryBackoff
	}

	return job.Spec{
		Name:     s.Name,
		Schedule: s.Schedule,
		Timezone: s.Timezone,
		Timeout:  timeout,
		Retry: job.RetryPolicy{
			MaxAttempts: attempts,
			BaseDelay:   base,
			Backoff:     backoff,
		},
		Enabled: s.IsEnabled(),
		Unit:    unit,
	}, nil
}

// validateConfig is the reload hook: checks the parts Config.Validate
// cannot, i.e. cron expressions and source construction.
func (a *App) validateConfig(cfg *config.Config) error {
	for _, s := range cfg.Sources {
		if err := a.trig.Validate(s.Name, s.Schedule, s.Timezone); err != nil {
			return err
		}
		if _, err := a.specFromSource(s); err != nil {
			return err
		}
	}
	return nil
}

// applyConfig applies a validated reload: sources are added, removed or
// replaced in the live set. Scheduler, storage, logging and monitor
// settings require a restart and are left as they were.
func (a *App) applyConfig(cfg *config.Config) {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return
	}
	prev := a.curSources
	next := indexSources(cfg.Sources)
	a.curSources = next
	a.mu.Unlock()

	for name := range prev {
		if _, ok := next[name]; !ok {
			if err := a.reg.Remove(name); err == nil {
				a.log.Info("source removed on reload", logx.String("job", name))
			}
		}
	}
	for name, s := range next {
		old, existed := prev[name]
		if existed && reflect.DeepEqual(old, s) {
			continue
		}
		if existed {
			_ = a.reg.Remove(name)
		}
		if !s.IsEnabled() {
			if existed {
				a.log.Info("source disabled on reload", logx.String("job", name))
			}
			continue
		}
		spec, err := a.specFromSource(s)
		if err != nil {
			// Validator ran before commit; treat as unexpected.
			a.log.Error("source rebuild failed on reload", logx.String("job", name), logx.Err(err))
			continue
		}
		if err := a.reg.Add(spec); err != nil {
			a.log.Error("source add failed on reload", logx.String("job", name), logx.Err(err))
			continue
		}
		if existed {
			a.log.Info("source replaced on reload", logx.String("job", name))
		} else {
			a.log.Info("source added on reload", logx.String("job", name))
		}
	}
}

func indexSources(list []config.SourceSpec) map[string]config.SourceSpec {
	out := make(map[string]config.SourceSpec, len(list))
	for _, s := range list {
		out[s.Name] = s
	}
	return out
}
