package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"chronobot/internal/eventbus"
	"chronobot/internal/storage"
	logx "chronobot/pkg/logx"
)

func New(cfg Config, store *storage.JobStore, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		clock:   clock.New(),
		store:   store,
		exec:    exec,
		failLog: map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply hot-reloads the poll interval and action timeout. A running poll
// loop is re-registered when the interval changes.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg.PollInterval
	s.cfg = cfg
	if s.c == nil || old == cfg.PollInterval {
		return
	}
	s.c.Remove(s.entryID)
	s.entryID = s.c.Schedule(cron.Every(cfg.PollInterval), s.pollJob())
	s.log.Info("poll interval changed", logx.Duration("from", old), logx.Duration("to", cfg.PollInterval))
}

// Running reports whether the poll loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Start begins polling. Passes run under a context derived from ctx, so
// cancelling ctx also ends a pass in progress after its current job.
func (s *Service) Start(ctx context.Context) error {
	if s.exec == nil {
		return ErrNoExecutor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	s.entryID = s.c.Schedule(cron.Every(s.cfg.PollInterval), s.pollJob())
	s.c.Start()
	s.log.Info("service started", logx.Duration("poll", s.cfg.PollInterval), logx.Int("jobs", s.store.Len()))
	return nil
}

func (s *Service) pollJob() cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.RunDue(ctx)
	})
}

// Stop halts polling and waits for a pass in progress to finish, or for ctx
// to expire. Jobs stay in the store and resume on the next start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for pass", logx.Err(ctx.Err()))
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
