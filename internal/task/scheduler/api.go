package scheduler

import (
	"context"
	"time"

	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"
)

// Schedule creates a job for action at the given instant and returns its id.
func (s *Service) Schedule(ctx context.Context, action jobs.Action, at time.Time, repeat jobs.RepeatPolicy) (string, error) {
	j, err := jobs.New(action, at, repeat, s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := s.Create(ctx, j); err != nil {
		return "", err
	}
	return j.ID, nil
}

// Create stores a fully built job. It is persisted before Create returns and
// takes effect no later than the next poll.
func (s *Service) Create(ctx context.Context, j jobs.Job) error {
	if err := s.store.Create(ctx, j); err != nil {
		return err
	}
	s.log.Info("job created",
		logx.String("id", j.ID),
		logx.String("kind", string(j.Action.Kind())),
		logx.Time("execute_at", j.ExecuteAt),
		logx.String("repeat", j.Repeat.String()),
	)
	s.publish(EventCreated, JobEvent{Job: j})
	return nil
}

// Modify replaces the schedule and action of job id.
func (s *Service) Modify(ctx context.Context, id string, next jobs.Job) (jobs.Job, error) {
	j, err := s.store.Modify(ctx, id, next)
	if err != nil {
		return jobs.Job{}, err
	}
	s.forgetFailures(id)
	s.log.Info("job modified", logx.String("id", id), logx.Time("execute_at", j.ExecuteAt), logx.String("repeat", j.Repeat.String()))
	s.publish(EventModified, JobEvent{Job: j})
	return j, nil
}

// Delete removes job id. An execution already in flight is not interrupted,
// but the job never fires again.
func (s *Service) Delete(ctx context.Context, id string) (jobs.Job, error) {
	j, err := s.store.Delete(ctx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	s.forgetFailures(id)
	s.log.Info("job deleted", logx.String("id", id), logx.String("kind", string(j.Action.Kind())))
	s.publish(EventDeleted, JobEvent{Job: j})
	return j, nil
}

func (s *Service) Get(id string) (jobs.Job, error) { return s.store.Get(id) }

// Query returns matching jobs in execution order.
func (s *Service) Query(pred func(jobs.Job) bool) []jobs.Job { return s.store.Query(pred) }

// List returns all jobs, or only those of the given kinds.
func (s *Service) List(kinds ...jobs.ActionKind) []jobs.Job {
	if len(kinds) == 0 {
		return s.store.Query(nil)
	}
	want := make(map[jobs.ActionKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return s.store.Query(func(j jobs.Job) bool { return want[j.Action.Kind()] })
}

// Now is the scheduler's notion of the current time.
func (s *Service) Now() time.Time { return s.clock.Now().UTC() }
