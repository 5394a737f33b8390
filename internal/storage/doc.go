// Package storage persists scheduled jobs.
//
// A JobStore keeps the working set in memory and writes every mutation
// through a Backend before it becomes visible:
//   - file: snapshot + append-only journal, compacted periodically
//   - sqlite: one row per job
//   - memory: nothing survives a restart (tests, dry runs)
package storage
