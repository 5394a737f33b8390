package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"
)

// JobStore is the shared, persisted collection of scheduled jobs.
//
// Every mutation is written to the backend first and applied in memory only
// when that write succeeds, so the two never disagree. All access goes
// through one mutex; interactive callers and the scheduler loop see a single
// order of events.
type JobStore struct {
	mu      sync.Mutex
	backend Backend
	log     logx.Logger
	jobs    map[string]*entry
	seq     uint64
}

// entry pairs a job with a revision that changes on every write, so the
// scheduler can tell whether a job it executed was edited meanwhile.
type entry struct {
	job jobs.Job
	rev uint64
}

// Outcome says what Complete did with an executed job.
type Outcome int

const (
	// OutcomeRetired: a one-shot job was removed.
	OutcomeRetired Outcome = iota + 1
	// OutcomeRescheduled: a repeating job moved to its next occurrence.
	OutcomeRescheduled
	// OutcomeSuperseded: the job was modified during execution; its new
	// schedule is kept and only the execution time is recorded.
	OutcomeSuperseded
	// OutcomeGone: the job was deleted during execution.
	OutcomeGone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetired:
		return "retired"
	case OutcomeRescheduled:
		return "rescheduled"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeGone:
		return "gone"
	default:
		return "unknown"
	}
}

func NewJobStore(backend Backend, log logx.Logger) *JobStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	if backend == nil {
		backend = NewMemory()
	}
	return &JobStore{backend: backend, log: log, jobs: map[string]*entry{}}
}

// Load replaces the in-memory set with what the backend holds.
func (s *JobStore) Load(ctx context.Context) (int, error) {
	list, err := s.backend.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load jobs: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*entry, len(list))
	for _, j := range list {
		if err := j.Validate(); err != nil {
			s.log.Warn("skipping invalid job", logx.String("id", j.ID), logx.Err(err))
			continue
		}
		s.jobs[j.ID] = &entry{job: j, rev: s.nextRevLocked()}
	}
	return len(s.jobs), nil
}

func (s *JobStore) nextRevLocked() uint64 {
	s.seq++
	return s.seq
}

// Create persists a new job.
func (s *JobStore) Create(ctx context.Context, j jobs.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, j.ID)
	}
	if err := s.backend.Put(ctx, j); err != nil {
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	s.jobs[j.ID] = &entry{job: j.Clone(), rev: s.nextRevLocked()}
	return nil
}

// Modify replaces the schedule, repeat policy and action of an existing
// job. Identity, creation time and execution history are kept.
func (s *JobStore) Modify(ctx context.Context, id string, next jobs.Job) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := e.job.Replace(next)
	if err := updated.Validate(); err != nil {
		return jobs.Job{}, err
	}
	if err := s.backend.Put(ctx, updated); err != nil {
		return jobs.Job{}, fmt.Errorf("persist job %s: %w", id, err)
	}
	e.job = updated
	e.rev = s.nextRevLocked()
	return updated.Clone(), nil
}

// Delete removes a job. An unknown id returns ErrNotFound without touching
// the backend.
func (s *JobStore) Delete(ctx context.Context, id string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return jobs.Job{}, fmt.Errorf("delete job %s: %w", id, err)
	}
	delete(s.jobs, id)
	return e.job, nil
}

func (s *JobStore) Get(id string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.job.Clone(), nil
}

// Query returns the jobs matching pred (all jobs when pred is nil) in
// execution order.
func (s *JobStore) Query(pred func(jobs.Job) bool) []jobs.Job {
	s.mu.Lock()
	out := make([]jobs.Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if pred == nil || pred(e.job) {
			out = append(out, e.job.Clone())
		}
	}
	s.mu.Unlock()
	sortJobs(out)
	return out
}

// Due returns jobs whose execution time is at or before now, earliest first.
func (s *JobStore) Due(now time.Time) []jobs.Job {
	return s.Query(func(j jobs.Job) bool { return j.Due(now) })
}

func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Claim confirms, under the store lock, that the job still exists and is
// due, and returns it with its current revision. The scheduler claims each
// job right before executing it so that a job deleted or moved after the due
// scan never fires.
func (s *JobStore) Claim(id string, now time.Time) (jobs.Job, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !e.job.Due(now) {
		return jobs.Job{}, 0, errNotDue
	}
	return e.job.Clone(), e.rev, nil
}

var errNotDue = errors.New("job not due")

// IsNotDue reports whether err came from claiming a job that is no longer due.
func IsNotDue(err error) bool { return errors.Is(err, errNotDue) }

// Complete records a successful execution of a job claimed at revision rev.
//
// One-shot jobs are removed. Repeating jobs are moved to their next
// occurrence after now, skipping any missed ones. A job deleted meanwhile
// stays deleted; a job modified meanwhile keeps its new schedule.
func (s *JobStore) Complete(ctx context.Context, id string, rev uint64, executedAt, now time.Time) (jobs.Job, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return jobs.Job{}, OutcomeGone, nil
	}
	executedAt = executedAt.UTC()

	updated := e.job.Clone()
	updated.LastExecutedAt = &executedAt
	outcome := OutcomeSuperseded

	if e.rev == rev {
		next, repeats := updated.Repeat.Next(updated.ExecuteAt, now)
		if !repeats || next.Year() > 9999 {
			if err := s.backend.Delete(ctx, id); err != nil {
				return jobs.Job{}, 0, fmt.Errorf("retire job %s: %w", id, err)
			}
			delete(s.jobs, id)
			return updated, OutcomeRetired, nil
		}
		updated.ExecuteAt = next
		outcome = OutcomeRescheduled
	}

	if err := s.backend.Put(ctx, updated); err != nil {
		return jobs.Job{}, 0, fmt.Errorf("reschedule job %s: %w", id, err)
	}
	e.job = updated
	e.rev = s.nextRevLocked()
	return updated.Clone(), outcome, nil
}

// Kinds counts jobs per action kind.
func (s *JobStore) Kinds() map[jobs.ActionKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[jobs.ActionKind]int{}
	for _, e := range s.jobs {
		out[e.job.Action.Kind()]++
	}
	return out
}

// IDs returns all job ids, sorted.
func (s *JobStore) IDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *JobStore) Close() error { return s.backend.Close() }
