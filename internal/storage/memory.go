package storage

import (
	"context"
	"sync"

	"chronobot/internal/jobs"
)

// Memory is a Backend that keeps jobs in a map.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]jobs.Job
	closed bool
}

func NewMemory() *Memory { return &Memory{jobs: map[string]jobs.Job{}} }

func (m *Memory) Load(ctx context.Context) ([]jobs.Job, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobs.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	sortJobs(out)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, j jobs.Job) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
