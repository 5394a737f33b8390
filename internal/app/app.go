package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"chronobot/internal/actions"
	"chronobot/internal/config"
	"chronobot/internal/eventbus"
	"chronobot/internal/storage"
	"chronobot/internal/task/scheduler"
	kit "chronobot/internal/transport"
	telegram "chronobot/internal/transport/telegram/adapter"
	"chronobot/internal/transport/telegram/router"
	logx "chronobot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.JobStore
	adapter kit.Adapter
	sched   *scheduler.Service
	cmdm    *router.CommandManager
	limits  *router.UserLimits

	// Failure notices already sent, keyed by job id.
	noticed *ttlcache.Cache[string, struct{}]

	updates chan kit.Update

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off, set its target, then apply the
	// final config; Apply warns when the sink is on without a target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ports := actions.PortsFrom(ad)
	exec := actions.New(ports, log.With(logx.String("comp", "actions")))
	schedSvc := scheduler.New(schedCfg, store, exec, log.With(logx.String("comp", "scheduler")), bus)

	limits, err := newUserLimits(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs, limits)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		cmdm:    cmdm,
		limits:  limits,
		noticed: ttlcache.New[string, struct{}](ttlcache.WithDisableTouchOnHit[string, struct{}]()),
		updates: make(chan kit.Update, 256),
		done:    make(chan struct{}),
	}

	set := &commandSet{sched: schedSvc, roles: ports.Roles, bans: ports.Bans, cfg: cfgm.Get}
	cmdm.SetRegistry(set.commands())
	return a, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.runCtx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.runCtx.Done()
}

// Err returns the first fatal error from the run group (if any).
func (a *App) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.runCtx, a.cancel = gctx, cancel

	if err := a.adapter.Start(gctx, a.updates); err != nil {
		cancel()
		return err
	}

	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		pass, err := a.sched.ResumeOnStartup(gctx)
		if err != nil {
			cancel()
			return err
		}
		if pass.Due > 0 {
			a.log.Info("caught up on overdue jobs",
				logx.Int("due", pass.Due),
				logx.Int("executed", pass.Executed),
				logx.Int("failed", pass.Failed),
			)
		}
		if err := a.sched.Start(gctx); err != nil {
			cancel()
			return err
		}
	} else {
		// Commands still list and edit jobs while execution is off.
		if _, err := a.store.Load(gctx); err != nil {
			cancel()
			return err
		}
		a.log.Info("scheduler disabled; jobs will not run")
	}

	g.Go(func() error {
		return a.cmdm.DispatchLoop(gctx, a.updates)
	})

	g.Go(func() error {
		// Debug level; job events are frequent with short repeats.
		eventbus.Forward(gctx, a.bus, 128, nil, func(e eventbus.Event) {
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		})
		return nil
	})

	g.Go(func() error {
		eventbus.Forward(gctx, a.bus, 32, eventbus.HasPrefix(scheduler.EventFailed), a.noticeFailure)
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				a.limits.DeleteExpired()
				a.noticed.DeleteExpired()
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	g.Go(func() error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(gctx, sub)
		return nil
	})

	g.Go(func() error {
		if err := a.cfgm.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("config watch: %w", err)
		}
		return nil
	})

	go func() {
		err := g.Wait()
		if err != nil {
			a.errMu.Lock()
			a.err = err
			a.errMu.Unlock()
			a.log.Error("app run group failed", logx.Err(err))
		}
		close(a.done)
	}()

	a.log.Info("app started", logx.Int("jobs", a.store.Len()), logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

// noticeFailure posts a job failure to the log chat. Each job gets at most
// one notice per failure log window.
func (a *App) noticeFailure(e eventbus.Event) {
	cfg := a.cfgm.Get()
	if !cfg.Scheduler.FailureNotices {
		return
	}
	ev, ok := e.Data.(scheduler.JobEvent)
	if !ok {
		return
	}
	if a.noticed.Has(ev.Job.ID) {
		return
	}
	window, err := config.ParseDurationOrDefault("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery, scheduler.DefaultFailureLogEach)
	if err != nil {
		window = scheduler.DefaultFailureLogEach
	}
	a.noticed.Set(ev.Job.ID, struct{}{}, window)

	desc := "no action"
	if ev.Job.Action != nil {
		desc = ev.Job.Action.Describe()
	}
	text := fmt.Sprintf("job %s failed: %s\n%s", ev.Job.ID, ev.Err, desc)
	if !a.logs.Notify(text) {
		a.log.Debug("failure notice dropped", logx.String("id", ev.Job.ID))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
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
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed["commands"] && !rateLimitsEqual(oldCfg.Commands, newCfg.Commands) {
		a.log.Warn("command rate limits changed; restart required for changes to take effect")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		a.log.Warn("telegram.poll_timeout changed; restart required for changes to take effect")
	}

	// Target first, so Apply doesn't warn when the chat sink is on.
	a.logs.SetTelegramTarget(logTarget(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	switch running := a.sched.Running(); {
	case running && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !running && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		if err := a.sched.Start(ctx); err != nil {
			a.log.Warn("scheduler start failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func rateLimitsEqual(a, b config.CommandsConfig) bool {
	return a.RatePerMinute == b.RatePerMinute && a.Burst == b.Burst &&
		strings.TrimSpace(a.LimiterTTL) == strings.TrimSpace(b.LimiterTTL)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		// never extend the caller's deadline
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, record when it finally returns.
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Scheduler first: a pass in progress finishes its current job and the
	// rest stay stored for the next start.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("run group", 3*time.Second, func(c context.Context) error {
		select {
		case <-a.done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
