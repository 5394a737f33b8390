package scheduler

import (
	"time"

	"chronobot/internal/jobs"
)

type Snapshot struct {
	Running       bool
	PollInterval  time.Duration
	ActionTimeout time.Duration

	Jobs     int
	Kinds    map[jobs.ActionKind]int
	NextAt   time.Time // zero when the store is empty
	NextPoll time.Time

	LastPass Pass
	Executed uint64
	Failed   uint64
	Failing  int // jobs with a failure since their last success
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	eid := s.entryID
	s.mu.Unlock()

	snap := Snapshot{
		Running:       c != nil,
		PollInterval:  cfg.PollInterval,
		ActionTimeout: cfg.ActionTimeout,
		Jobs:          s.store.Len(),
		Kinds:         s.store.Kinds(),
	}
	if c != nil && eid != 0 {
		snap.NextPoll = c.Entry(eid).Next
	}
	if next := s.store.Query(nil); len(next) > 0 {
		snap.NextAt = next[0].ExecuteAt
	}

	s.statMu.Lock()
	snap.LastPass = s.lastPass
	snap.Executed = s.executed
	snap.Failed = s.failed
	s.statMu.Unlock()

	s.failMu.Lock()
	snap.Failing = len(s.failLog)
	s.failMu.Unlock()
	return snap
}
