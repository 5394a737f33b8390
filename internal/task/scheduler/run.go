package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"chronobot/internal/eventbus"
	"chronobot/internal/jobs"
	"chronobot/internal/storage"
	logx "chronobot/pkg/logx"
)

// RunDue executes every job due at the current time, earliest first.
//
// Each job is claimed right before execution, so a job deleted or moved
// after the scan is skipped. A failing job is logged and left as it is; the
// pass continues with the next one.
//
// Cancelling ctx ends the pass between jobs. A job already started runs to
// completion (bounded by the action timeout) and its result is persisted.
func (s *Service) RunDue(ctx context.Context) Pass {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	inflight := context.WithoutCancel(ctx)

	start := s.clock.Now().UTC()
	due := s.store.Due(start)
	p := Pass{At: start, Due: len(due)}

	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, rev, err := s.store.Claim(j.ID, s.clock.Now().UTC())
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) && !storage.IsNotDue(err) {
				s.log.Warn("claim failed", logx.String("id", j.ID), logx.Err(err))
			}
			p.Skipped++
			continue
		}

		if err := s.execute(inflight, claimed); err != nil {
			p.Failed++
			s.reportFailure(claimed, err)
			continue
		}

		executedAt := s.clock.Now().UTC()
		done, outcome, err := s.store.Complete(inflight, claimed.ID, rev, executedAt, executedAt)
		if err != nil {
			// The action ran but the new state is not on disk; the job fires
			// again on the next pass.
			p.Failed++
			s.log.Error("job executed but not persisted", logx.String("id", claimed.ID), logx.Err(err))
			s.publish(EventFailed, JobEvent{Job: claimed, Err: err.Error()})
			continue
		}
		if outcome == storage.OutcomeGone {
			done = claimed
		}
		p.Executed++
		s.forgetFailures(claimed.ID)
		s.log.Info("job executed",
			logx.String("id", done.ID),
			logx.String("kind", string(done.Action.Kind())),
			logx.String("outcome", outcome.String()),
			logx.Time("next", done.ExecuteAt),
		)
		s.publish(EventExecuted, JobEvent{Job: done, Outcome: outcome.String()})
		if outcome == storage.OutcomeRetired {
			s.publish(EventRetired, JobEvent{Job: done, Outcome: outcome.String()})
		}
	}

	p.Took = s.clock.Since(start)
	s.statMu.Lock()
	s.lastPass = p
	s.executed += uint64(p.Executed)
	s.failed += uint64(p.Failed)
	s.statMu.Unlock()
	if p.Due > 0 {
		s.log.Debug("pass done",
			logx.Int("due", p.Due),
			logx.Int("executed", p.Executed),
			logx.Int("failed", p.Failed),
			logx.Int("skipped", p.Skipped),
			logx.Duration("took", p.Took),
		)
	}
	return p
}

// execute runs one action with the configured timeout. Panics become errors.
// An action that ignores its context is abandoned when the timeout expires
// and counts as failed.
func (s *Service) execute(ctx context.Context, j jobs.Job) error {
	if s.exec == nil {
		return ErrNoExecutor
	}
	timeout := s.config().ActionTimeout
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("action panicked", logx.String("id", j.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- s.exec.Execute(actx, j)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		return fmt.Errorf("%s action did not finish within %s: %w", j.Action.Kind(), timeout, actx.Err())
	}
}

func (s *Service) reportFailure(j jobs.Job, err error) {
	s.publish(EventFailed, JobEvent{Job: j, Err: err.Error()})

	each := s.config().FailureLogEach
	s.failMu.Lock()
	lim := s.failLog[j.ID]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(each), 1)
		s.failLog[j.ID] = lim
	}
	allowed := lim.AllowN(s.clock.Now(), 1)
	s.failMu.Unlock()
	if !allowed {
		return
	}
	s.log.Warn("job failed, will retry",
		logx.String("id", j.ID),
		logx.String("kind", string(j.Action.Kind())),
		logx.Time("execute_at", j.ExecuteAt),
		logx.Err(err),
	)
}

func (s *Service) forgetFailures(id string) {
	s.failMu.Lock()
	delete(s.failLog, id)
	s.failMu.Unlock()
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}

// ResumeOnStartup loads the persisted jobs and runs everything that came due
// while the process was down. Overdue jobs fire once each; repeating ones
// are then fast-forwarded past the present.
func (s *Service) ResumeOnStartup(ctx context.Context) (Pass, error) {
	n, err := s.store.Load(ctx)
	if err != nil {
		return Pass{}, err
	}
	now := s.clock.Now().UTC()
	overdue := s.store.Due(now)
	s.log.Info("jobs loaded", logx.Int("jobs", n), logx.Int("overdue", len(overdue)))
	for _, j := range overdue {
		s.log.Info("job overdue, running now",
			logx.String("id", j.ID),
			logx.String("kind", string(j.Action.Kind())),
			logx.Duration("late", now.Sub(j.ExecuteAt).Truncate(time.Second)),
		)
	}
	return s.RunDue(ctx), nil
}
