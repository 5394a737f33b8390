// Package jobs defines scheduled jobs: when they run, how they repeat and
// what they do.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOutOfRange = errors.New("time is too far in the future")
	ErrPast       = errors.New("execution time is in the past")
	ErrNoAction   = errors.New("job has no action")
)

// Job is a persisted deferred action.
//
// ID and CreatedAt never change. ExecuteAt moves forward each time a
// repeating job fires. LastExecutedAt is owned by the scheduler.
type Job struct {
	ID             string
	CreatedAt      time.Time
	ExecuteAt      time.Time
	LastExecutedAt *time.Time
	Repeat         RepeatPolicy
	Action         Action
}

// New builds a job that fires at `at`. The time must not be before now.
func New(action Action, at time.Time, repeat RepeatPolicy, now time.Time) (Job, error) {
	now = now.UTC()
	at = at.UTC()
	if at.Before(now) {
		return Job{}, fmt.Errorf("%w: %s", ErrPast, at.Format(time.RFC3339))
	}
	if repeat.Kind == "" {
		repeat.Kind = RepeatNone
	}
	j := Job{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExecuteAt: at,
		Repeat:    repeat.anchored(at),
		Action:    action,
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Validate checks the fields every stored job must have.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id required")
	}
	if j.Action == nil {
		return ErrNoAction
	}
	if err := j.Action.Validate(); err != nil {
		return fmt.Errorf("%s action: %w", j.Action.Kind(), err)
	}
	if j.ExecuteAt.IsZero() {
		return errors.New("execute time required")
	}
	if j.ExecuteAt.Year() > maxYear {
		return ErrOutOfRange
	}
	return j.Repeat.Validate()
}

// Due reports whether the job should fire at now.
func (j Job) Due(now time.Time) bool { return !j.ExecuteAt.After(now) }

// Clone returns a copy that shares nothing mutable with j.
func (j Job) Clone() Job {
	if j.LastExecutedAt != nil {
		t := *j.LastExecutedAt
		j.LastExecutedAt = &t
	}
	return j
}

// Replace applies the caller-editable fields of next onto j. Identity,
// creation time and execution history are kept.
func (j Job) Replace(next Job) Job {
	out := j.Clone()
	out.ExecuteAt = next.ExecuteAt.UTC()
	out.Repeat = next.Repeat
	if out.Repeat.Kind == "" {
		out.Repeat.Kind = RepeatNone
	}
	out.Repeat = out.Repeat.anchored(out.ExecuteAt)
	out.Action = next.Action
	return out
}

// Less orders jobs by execution time, then creation time, then id.
func Less(a, b Job) bool {
	if !a.ExecuteAt.Equal(b.ExecuteAt) {
		return a.ExecuteAt.Before(b.ExecuteAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
