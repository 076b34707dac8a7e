package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"questbot/internal/commands"
	"questbot/internal/config"
	"questbot/internal/eventbus"
	"questbot/internal/gametime"
	"questbot/internal/notifier"
	"questbot/internal/observability/metrics"
	rtsup "questbot/internal/runtime/supervisor"
	"questbot/internal/storage"
	"questbot/internal/task/engine"
	"questbot/internal/task/scheduler"
	"questbot/internal/tracker"
	kit "questbot/internal/transport"
	telegram "questbot/internal/transport/telegram/adapter"
	"questbot/internal/transport/telegram/router"
	logx "questbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine  *engine.Service
	sched   *scheduler.Service
	notif   *notifier.Service
	tr      *tracker.Tracker
	metrics *metrics.Server

	cmdm *router.CommandManager
	sups *router.SupervisorRegistry

	updates chan kit.Update
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := openStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	gs, err := mapGameConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if gs.Fallback {
		appLog.Warn("game timezone not in tz database; using fixed UTC+3", logx.String("timezone", cfg.Game.Timezone))
	}
	clock := gametime.New(gs.Location)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	engineSvc.SetObserver(metrics.ObserveJob)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sinks, err := notifierSinks(cfg, ad, clock)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus, store, sinks...)

	tr := tracker.New(store, clock, notifSvc, schedSvc, gs.Options, log.With(logx.String("comp", "tracker")), bus)

	sups := router.NewSupervisorRegistry()
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs, sups)
	set := commands.New(tr, store, sups, schedSvc, log.With(logx.String("comp", "commands")))
	cmdm.SetRegistry(set.Commands(), set.Callbacks())

	mc, err := mapMetricsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		tr:      tr,
		cmdm:    cmdm,
		sups:    sups,
		updates: make(chan kit.Update, 256),
	}
	a.metrics = metrics.NewServer(mc, prometheus.DefaultGatherer, a.Err, log.With(logx.String("comp", "metrics")))
	return a, nil
}

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.track("telegram.adapter", a.adapter.Supervisor())

	// engine before scheduler: triggers need somewhere to run
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
		a.track("task.engine", a.engine.Supervisor())
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		a.track("notifier", a.notif.Supervisor())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.metrics.Enabled() {
		a.metrics.Start(a.sup.Context())
		a.track("metrics", a.metrics.Supervisor())
	}

	if err := a.tr.Register(); err != nil {
		a.log.Warn("tracker jobs not registered", logx.Err(err))
	} else if err := a.tr.Kick(); err != nil {
		a.log.Warn("initial cycle not scheduled", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

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
				// coalesce bursts
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

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("timezone", a.tr.Clock().Location().String()))
	return nil
}

func (a *App) track(name string, sup *rtsup.Supervisor) {
	if sup != nil {
		a.sups.Set(name, sup)
	}
}

// applyConfig pushes a committed config to the live components. Sections
// that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	prevEng := a.engine.Enabled()
	prevSched := a.sched.Enabled()
	if ec, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}
	a.sched.Apply(mapSchedulerConfig(newCfg))

	// scheduler first on the way down, engine first on the way up
	if prevSched && !a.sched.Enabled() {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if prevEng && !a.engine.Enabled() {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
		a.sups.Delete("task.engine")
	}
	if !prevEng && a.engine.Enabled() {
		a.log.Info("task engine enabled via config")
		a.engine.Start(ctx)
		a.track("task.engine", a.engine.Supervisor())
	}
	if !prevSched && a.sched.Enabled() {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	prevNotif := a.notif.Enabled()
	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
		if prevNotif && !nc.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.sups.Delete("notifier")
		} else if !prevNotif && nc.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
			a.track("notifier", a.notif.Supervisor())
		}
	}
	if sinks, err := notifierSinks(newCfg, a.adapter, a.tr.Clock()); err != nil {
		a.log.Warn("invalid notifier sinks; keeping previous", logx.Err(err))
	} else {
		a.notif.SetSinks(sinks...)
	}

	if gs, err := mapGameConfig(newCfg); err != nil {
		a.log.Warn("invalid game config; keeping previous", logx.Err(err))
	} else {
		a.tr.Apply(gs.Options)
		if err := a.tr.Register(); err != nil {
			a.log.Warn("tracker jobs not re-registered", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown stage by max, never past the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("metrics", 1*time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
