package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"
)

const defaultCompactEvery = 200

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.snapshot.json (periodic snapshot, JSON array)
//   - <prefix>.jobs.journal.jsonl (append-only journal)
//
// Every journal record is fsynced before Put/Delete return. A failed write
// is truncated away so the journal only ever holds whole records. The
// journal is compacted into the snapshot every CompactEvery writes and once
// on load, unless the store was opened read-only.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalPath  string
	journal      *os.File
	jobs         map[string]jobs.Job
	readOnly     bool

	// size is the journal length through the last complete record.
	size int64

	writes       int
	compactEvery int
}

type journalOp string

const (
	opPut    journalOp = "put"
	opDelete journalOp = "delete"
)

type journalRecord struct {
	Op  journalOp       `json:"op"`
	ID  string          `json:"id,omitempty"`
	Job json.RawMessage `json:"job,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".jobs.snapshot.json",
		journalPath:  prefix + ".jobs.journal.jsonl",
		jobs:         map[string]jobs.Job{},
		compactEvery: cfg.CompactEvery,
		readOnly:     cfg.ReadOnly,
	}
	if s.compactEvery <= 0 {
		s.compactEvery = defaultCompactEvery
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.snapshotPath, err)
	}
	replayed, valid, err := s.replayJournal()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", s.journalPath, err)
	}
	if s.readOnly {
		return s, nil
	}

	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	s.size = valid
	if err := s.trimJournalLocked(); err != nil {
		_ = jf.Close()
		return nil, fmt.Errorf("trim %s: %w", s.journalPath, err)
	}

	if replayed > 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("job journal compact failed", logx.Err(err))
		}
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context) ([]jobs.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sortJobs(out)
	return out, nil
}

func (s *fileStore) Put(ctx context.Context, j jobs.Job) error {
	_ = ctx
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPut, ID: j.ID, Job: raw}); err != nil {
		return err
	}
	s.jobs[j.ID] = j.Clone()
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDelete, ID: id}); err != nil {
		return err
	}
	delete(s.jobs, id)
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if s.journal == nil {
		return ErrClosed
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if err := s.trimJournalLocked(); err != nil {
		return err
	}
	n, err := s.journal.Write(line)
	if err == nil {
		err = s.journal.Sync()
	}
	if err != nil {
		// Back to the last complete record.
		if terr := s.journal.Truncate(s.size); terr != nil {
			s.log.Error("job journal rollback failed", logx.Int64("size", s.size), logx.Err(terr))
			return errors.Join(err, terr)
		}
		_ = s.journal.Sync()
		return err
	}
	s.size += int64(n)
	return nil
}

// trimJournalLocked drops bytes past the last complete record.
func (s *fileStore) trimJournalLocked() error {
	st, err := s.journal.Stat()
	if err != nil {
		return err
	}
	if st.Size() == s.size {
		return nil
	}
	s.log.Warn("dropping partial job journal tail", logx.Int64("bytes", st.Size()-s.size))
	if err := s.journal.Truncate(s.size); err != nil {
		return err
	}
	return s.journal.Sync()
}

func (s *fileStore) afterWriteLocked() {
	s.writes++
	if s.writes%s.compactEvery != 0 {
		return
	}
	// The journal already holds the write, so a failed compaction loses nothing.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("job journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	list := make([]jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	sortJobs(list)

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.size = 0
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for _, raw := range list {
		j, err := jobs.UnmarshalJob(raw)
		if err != nil {
			s.log.Warn("skipping unreadable job in snapshot", logx.Err(err))
			continue
		}
		s.jobs[j.ID] = j
	}
	return nil
}

// replayJournal applies every complete record and returns how many were
// applied and the byte length they span. A trailing line without a newline
// is a write that never finished; it is ignored.
func (s *fileStore) replayJournal() (int, int64, error) {
	f, err := os.Open(s.journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	n := 0
	var valid int64
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return n, valid, err
		}
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			if len(raw) > 0 {
				s.log.Warn("ignoring partial journal line", logx.Int("bytes", len(raw)))
			}
			return n, valid, nil
		}
		valid += int64(len(raw))

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Warn("skipping malformed journal line", logx.Err(err))
			continue
		}
		switch rec.Op {
		case opPut:
			j, err := jobs.UnmarshalJob(rec.Job)
			if err != nil {
				s.log.Warn("skipping unreadable job in journal", logx.String("id", rec.ID), logx.Err(err))
				continue
			}
			s.jobs[j.ID] = j
		case opDelete:
			delete(s.jobs, rec.ID)
		default:
			continue
		}
		n++
	}
}

func sortJobs(list []jobs.Job) {
	sort.Slice(list, func(i, k int) bool { return jobs.Less(list[i], list[k]) })
}
