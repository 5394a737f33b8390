package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"chronobot/internal/eventbus"
	"chronobot/internal/jobs"
	"chronobot/internal/storage"
	logx "chronobot/pkg/logx"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultActionTimeout  = 30 * time.Second
	DefaultFailureLogEach = time.Minute
)

var ErrNoExecutor = errors.New("scheduler: no executor configured")

// Config controls polling and execution.
type Config struct {
	PollInterval   time.Duration
	ActionTimeout  time.Duration
	FailureLogEach time.Duration // minimum gap between failure logs for one job
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.FailureLogEach <= 0 {
		c.FailureLogEach = DefaultFailureLogEach
	}
	return c
}

// Executor performs a job's action. Implementations translate the action
// record into platform side effects and report failure as an error.
type Executor interface {
	Execute(ctx context.Context, j jobs.Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, j jobs.Job) error

func (f ExecutorFunc) Execute(ctx context.Context, j jobs.Job) error { return f(ctx, j) }

// Event types published on the bus.
const (
	EventCreated  = "job.created"
	EventModified = "job.modified"
	EventDeleted  = "job.deleted"
	EventExecuted = "job.executed"
	EventFailed   = "job.failed"
	EventRetired  = "job.retired"
)

// JobEvent is the Data of every job.* event.
type JobEvent struct {
	Job     jobs.Job
	Outcome string
	Err     string
}

// Pass summarises one RunDue call.
type Pass struct {
	At       time.Time
	Due      int
	Executed int
	Failed   int
	Skipped  int // deleted or moved between the scan and execution
	Took     time.Duration
}

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	bus   eventbus.Bus
	clock clock.Clock

	store *storage.JobStore
	exec  Executor

	c         *cron.Cron
	entryID   cron.EntryID
	runCtx    context.Context
	runCancel context.CancelFunc

	// One pass at a time, whether triggered by cron or called directly.
	passMu sync.Mutex

	// Failure log throttling: key is job id.
	failMu  sync.Mutex
	failLog map[string]*rate.Limiter

	statMu   sync.Mutex
	lastPass Pass
	executed uint64
	failed   uint64
}
