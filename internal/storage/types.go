package storage

import (
	"context"
	"errors"
	"time"

	"chronobot/internal/jobs"
)

var (
	ErrNotFound  = errors.New("no such job")
	ErrDuplicate = errors.New("job id already exists")
	ErrClosed    = errors.New("storage closed")
	ErrReadOnly  = errors.New("storage opened read-only")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "memory": not persisted
//
// If Driver is empty or "none", jobs are kept in memory only.
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; journal writes between compactions

	// ReadOnly opens the backend for inspection: Put and Delete fail with
	// ErrReadOnly and the file backend leaves its journal untouched.
	ReadOnly bool
}

// Backend is the durable half of a JobStore. Implementations do not need
// their own locking beyond what Close requires; JobStore serializes calls.
type Backend interface {
	Load(ctx context.Context) ([]jobs.Job, error)
	Put(ctx context.Context, j jobs.Job) error
	Delete(ctx context.Context, id string) error
	Close() error
}
