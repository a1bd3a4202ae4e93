// Package app wires the scheduler, its job catalog, the run journal and the
// admin server together and owns the config hot-reload fan-out.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"swbf2sched/internal/config"
	"swbf2sched/internal/eventbus"
	"swbf2sched/internal/jobs"
	"swbf2sched/internal/observability/admin"
	rtsup "swbf2sched/internal/runtime/supervisor"
	"swbf2sched/internal/storage"
	"swbf2sched/internal/task/journal"
	"swbf2sched/internal/task/scheduler"
	logx "swbf2sched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	sched  *scheduler.Service
	runner *jobs.Runner
	rec    *journal.Recorder
	admin  *admin.Service
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met, err := scheduler.NewMetrics(reg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus, scheduler.WithMetrics(met))

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    appLog,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		reg:    reg,
		sched:  sched,
		runner: jobs.NewRunner(sched, log.With(logx.String("comp", "jobs"))),
	}
	if store != nil {
		a.rec = journal.NewRecorder(store, log.With(logx.String("comp", "journal")))
	}

	src := admin.Sources{
		Scheduler: sched.Snapshot,
		Gatherer:  reg,
		Health:    a.health,
	}
	if store != nil {
		src.Runs = store.RecentRuns
	}
	a.admin = admin.New(adminCfg, log.With(logx.String("comp", "admin")), src)
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Scheduler exposes the scheduler for embedding callers.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store returns the run journal store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() error {
	if !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	// Validate skips admin timeouts while admin is disabled; mapping does not.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapAdminConfig(cfg)
		return err
	})

	// Subscribe before the scheduler publishes anything.
	if a.rec != nil {
		a.sup.Go0("journal", a.rec.Attach(a.bus))
	}
	if a.log.Enabled(logx.ParseLevel("debug")) {
		a.startEventLog()
	}

	if err := a.sched.Start(c); err != nil {
		return errors.Wrap(err, "start scheduler")
	}
	if err := a.runner.Apply(c, a.cfgm.Get().Jobs); err != nil {
		return errors.Wrap(err, "apply jobs")
	}
	a.admin.Start(c)

	a.startReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()), logx.Bool("storage", a.store != nil))
	return nil
}

// startEventLog logs bus traffic at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(next))

	reapply := false
	for _, s := range sections {
		if s == "jobs" {
			reapply = true
			break
		}
	}

	if d := next.Scheduler.TickDelayOr(scheduler.DefaultTickDelay); d != a.sched.TickDelay() {
		a.sched.SetTickDelay(d)
		a.log.Info("tick delay updated", logx.Duration("tick_delay", d))
		// Wall-clock intervals were converted with the old delay.
		reapply = reapply || a.runner.TickBound()
	}

	if reapply {
		if err := a.runner.Apply(ctx, next.Jobs); err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var firstErr error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				if firstErr == nil {
					firstErr = errors.Wrap(err, name)
				}
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Cron first so nothing new lands in the queue while the worker drains.
	step("jobs", time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
