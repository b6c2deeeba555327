// Package app assembles the process: config, logging, storage, the trigger
// engine, the execution coordinator, the job registry and the monitor. It
// owns the lifecycle state machine and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"logingest/internal/config"
	"logingest/internal/dispatch"
	"logingest/internal/eventbus"
	"logingest/internal/monitor"
	"logingest/internal/registry"
	"logingest/internal/source"
	"logingest/internal/storage"
	"logingest/internal/trigger"
	"logingest/pkg/logx"
)

const defaultGrace = 30 * time.Second

// Options tweak construction; the zero value is production behavior.
type Options struct {
	// Logger overrides the config-driven logger (tests).
	Logger *logx.Logger
	// Sources overrides the built-in source registry (tests).
	Sources source.Registry
	// DisableNotify skips sd_notify calls (tests, non-systemd hosts).
	DisableNotify bool
}

type App struct {
	cfgMgr *config.Manager
	opts   Options

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	trig  *trigger.Engine
	disp  *dispatch.Service
	reg   *registry.Registry
	mon   *monitor.Service

	sources source.Registry
	grace   time.Duration

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	stopped    chan struct{} // closed when shutdown completes
	curSources map[string]config.SourceSpec
}

func New(configPath string, opts Options) *App {
	srcs := opts.Sources
	if srcs == nil {
		srcs = source.Defaults()
	}
	return &App{
		cfgMgr:  config.NewManager(configPath),
		opts:    opts,
		sources: srcs,
		state:   StateStopped,
		grace:   defaultGrace,
	}
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start brings every component up in dependency order. Any failure tears
// down what was already built and leaves the app stopped.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateStopped {
		a.mu.Unlock()
		return fmt.Errorf("app: start from state %q", a.state)
	}
	a.state = StateStarting
	a.stopped = make(chan struct{})
	a.mu.Unlock()

	if err := a.start(ctx); err != nil {
		a.teardown(context.Background())
		a.setState(StateStopped)
		return err
	}

	a.mu.Lock()
	a.state = StateRunning
	a.startedAt = time.Now()
	a.mu.Unlock()

	a.notify(daemon.SdNotifyReady)
	a.log.Info("started", logx.Int("jobs", len(a.reg.Jobs())))
	return nil
}

func (a *App) start(ctx context.Context) error {
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if a.opts.Logger != nil {
		a.log = *a.opts.Logger
	} else {
		a.log = logx.New(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.ConsoleEnabled(),
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	grace, err := config.ParseDurationOrDefault("scheduler.grace_period", cfg.Scheduler.GracePeriod, defaultGrace)
	if err != nil {
		return err
	}
	a.grace = grace
	defTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0)
	if err != nil {
		return err
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Conn:        cfg.Storage.Conn,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	if store != nil {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure storage schema: %w", err)
		}
	}

	a.bus = eventbus.New()
	a.disp = dispatch.New(dispatch.Config{
		MaxParallel:    cfg.Scheduler.MaxParallelJobs,
		DefaultTimeout: defTimeout,
	}, a.log.With(logx.String("comp", "dispatch")), a.bus)

	trig, err := trigger.New(trigger.Config{Timezone: cfg.Scheduler.Timezone},
		a.log.With(logx.String("comp", "trigger")), a.disp.OnFire)
	if err != nil {
		return err
	}
	a.trig = trig
	a.disp.SetNextFireLookup(trig.NextFireTime)

	a.reg = registry.New(a.log.With(logx.String("comp", "registry")), a.trig, a.disp)
	a.cfgMgr.SetValidator(a.validateConfig)

	specs, err := a.buildSpecs(cfg)
	if err != nil {
		return err
	}
	if err := a.reg.Load(specs); err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	a.mon = monitor.New(monitor.Config{
		Enabled: cfg.Monitor.Enabled,
		Addr:    cfg.Monitor.Addr,
	}, a.log.With(logx.String("comp", "monitor")), a.bus, a.disp.Snapshot, a.statusInfo)
	if _, err := a.mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	// The coordinator must not inherit the caller's (signal) context:
	// queued and in-flight fires get the grace period after a signal, and
	// cancellation happens in Shutdown via disp.Stop once the drain is over.
	a.disp.Start(context.Background())
	a.trig.Start()
	return nil
}

// Run starts the app, watches the config file for changes and blocks until
// ctx is cancelled, then shuts down within the configured grace period.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := a.cfgMgr.Watch(watchCtx, a.applyConfig); err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	<-ctx.Done()
	a.Shutdown(a.grace)
	return nil
}

// Shutdown drains gracefully: no new fires, queued and in-flight work gets
// the grace period, then everything else is cancelled. Safe to call from
// multiple goroutines; later calls wait for the first to finish.
func (a *App) Shutdown(grace time.Duration) {
	a.mu.Lock()
	switch a.state {
	case StateStopped:
		a.mu.Unlock()
		return
	case StateDraining:
		done := a.stopped
		a.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	a.state = StateDraining
	done := a.stopped
	a.mu.Unlock()

	a.notify(daemon.SdNotifyStopping)
	a.log.Info("shutting down", logx.Duration("grace", grace))

	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if a.trig != nil {
		a.trig.Stop(graceCtx)
	}
	if a.disp != nil {
		if err := a.disp.Drain(graceCtx); err != nil {
			a.log.Warn("grace period expired with work outstanding", logx.Err(err))
		}
		a.disp.Stop()
	}
	a.teardown(graceCtx)

	a.setState(StateStopped)
	if done != nil {
		close(done)
	}
	a.log.Info("stopped")
	_ = a.log.Close()
}

// teardown releases passive resources. Used by both failed startup and
// shutdown, so every field check is nil-safe.
func (a *App) teardown(ctx context.Context) {
	if a.mon != nil {
		a.mon.Stop(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
		a.store = nil
	}
}

func (a *App) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *App) statusInfo() monitor.StatusInfo {
	a.mu.Lock()
	st := a.state
	since := a.startedAt
	a.mu.Unlock()
	jobs := 0
	if a.reg != nil {
		jobs = len(a.reg.Jobs())
	}
	return monitor.StatusInfo{State: string(st), StartedAt: since, Jobs: jobs}
}

func (a *App) notify(state string) {
	if a.opts.DisableNotify {
		return
	}
	if ok, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
