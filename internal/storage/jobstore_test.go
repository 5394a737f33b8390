package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"
)

var t0 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func newJob(t *testing.T, at time.Time, repeat jobs.RepeatPolicy) jobs.Job {
	t.Helper()
	j, err := jobs.New(jobs.Echo{ChatID: -100, Text: "ping"}, at, repeat, t0)
	if err != nil {
		t.Fatalf("jobs.New: %v", err)
	}
	return j
}

type failingBackend struct {
	*Memory
	fail error
}

func (b *failingBackend) Put(ctx context.Context, j jobs.Job) error {
	if b.fail != nil {
		return b.fail
	}
	return b.Memory.Put(ctx, j)
}

func (b *failingBackend) Delete(ctx context.Context, id string) error {
	if b.fail != nil {
		return b.fail
	}
	return b.Memory.Delete(ctx, id)
}

func TestJobStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJobStore(NewMemory(), logx.Nop())

	j := newJob(t, t0.Add(time.Hour), jobs.Once())
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, j); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Create err = %v, want ErrDuplicate", err)
	}

	got, err := s.Get(j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(j, got); diff != "" {
		t.Fatalf("Get mismatch (-want +got):\n%s", diff)
	}

	next := j
	next.ExecuteAt = t0.Add(2 * time.Hour)
	next.Action = jobs.Echo{ChatID: -100, Text: "pong"}
	next.ID = "ignored"
	mod, err := s.Modify(ctx, j.ID, next)
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if mod.ID != j.ID || !mod.CreatedAt.Equal(j.CreatedAt) || !mod.ExecuteAt.Equal(next.ExecuteAt) {
		t.Fatalf("Modify = %+v", mod)
	}

	if _, err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(j.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if _, err := s.Modify(ctx, j.ID, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Modify after delete err = %v", err)
	}
}

func TestDeleteUnknownLeavesFilesUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	b, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := NewJobStore(b, logx.Nop())
	defer s.Close()
	if err := s.Create(ctx, newJob(t, t0.Add(time.Hour), jobs.Daily())); err != nil {
		t.Fatal(err)
	}

	journal := filepath.Join(dir, "bot.jobs.journal.jsonl")
	before, err := os.ReadFile(journal)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete err = %v, want ErrNotFound", err)
	}
	after, err := os.ReadFile(journal)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("journal changed:\nbefore %s\nafter  %s", before, after)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestPersistenceFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fb := &failingBackend{Memory: NewMemory()}
	s := NewJobStore(fb, logx.Nop())
	j := newJob(t, t0.Add(time.Hour), jobs.Once())
	if err := s.Create(ctx, j); err != nil {
		t.Fatal(err)
	}

	fb.fail = errors.New("disk full")
	if err := s.Create(ctx, newJob(t, t0.Add(time.Hour), jobs.Once())); err == nil {
		t.Fatal("Create succeeded with failing backend")
	}
	next := j
	next.ExecuteAt = t0.Add(5 * time.Hour)
	if _, err := s.Modify(ctx, j.ID, next); !errors.Is(err, fb.fail) {
		t.Fatalf("Modify err = %v", err)
	}
	if _, err := s.Delete(ctx, j.ID); !errors.Is(err, fb.fail) {
		t.Fatalf("Delete err = %v", err)
	}

	got, err := s.Get(j.ID)
	if err != nil {
		t.Fatalf("job lost: %v", err)
	}
	if !got.ExecuteAt.Equal(j.ExecuteAt) || s.Len() != 1 {
		t.Fatalf("memory changed: %+v (len %d)", got, s.Len())
	}
}

func TestCompleteRetiresOneShot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJobStore(NewMemory(), logx.Nop())
	j := newJob(t, t0.Add(time.Minute), jobs.Once())
	if err := s.Create(ctx, j); err != nil {
		t.Fatal(err)
	}
	now := t0.Add(2 * time.Minute)
	claimed, rev, err := s.Claim(j.ID, now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	done, outcome, err := s.Complete(ctx, claimed.ID, rev, now, now)
	if err != nil || outcome != OutcomeRetired {
		t.Fatalf("Complete = %v, %v", outcome, err)
	}
	if done.LastExecutedAt == nil || !done.LastExecutedAt.Equal(now) {
		t.Fatalf("LastExecutedAt = %v", done.LastExecutedAt)
	}
	if s.Len() != 0 {
		t.Fatal("one-shot job survived execution")
	}
}

func TestCompleteFastForwardsRepeating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJobStore(NewMemory(), logx.Nop())
	j := newJob(t, t0.Add(9*time.Hour), jobs.Daily())
	if err := s.Create(ctx, j); err != nil {
		t.Fatal(err)
	}
	// Offline for three days.
	now := t0.Add(3*24*time.Hour + 10*time.Hour)
	_, rev, err := s.Claim(j.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	got, outcome, err := s.Complete(ctx, j.ID, rev, now, now)
	if err != nil || outcome != OutcomeRescheduled {
		t.Fatalf("Complete = %v, %v", outcome, err)
	}
	if want := t0.Add(4*24*time.Hour + 9*time.Hour); !got.ExecuteAt.Equal(want) {
		t.Fatalf("ExecuteAt = %s, want %s", got.ExecuteAt, want)
	}
	stored, _ := s.Get(j.ID)
	if !stored.ExecuteAt.Equal(got.ExecuteAt) {
		t.Fatalf("stored ExecuteAt = %s", stored.ExecuteAt)
	}
}

func TestCompleteRespectsConcurrentEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJobStore(NewMemory(), logx.Nop())
	now := t0.Add(time.Hour)

	deleted := newJob(t, t0.Add(time.Minute), jobs.Daily())
	moved := newJob(t, t0.Add(time.Minute), jobs.Daily())
	for _, j := range []jobs.Job{deleted, moved} {
		if err := s.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	_, revDeleted, _ := s.Claim(deleted.ID, now)
	_, revMoved, _ := s.Claim(moved.ID, now)

	if _, err := s.Delete(ctx, deleted.ID); err != nil {
		t.Fatal(err)
	}
	target := moved
	target.ExecuteAt = t0.Add(48 * time.Hour)
	if _, err := s.Modify(ctx, moved.ID, target); err != nil {
		t.Fatal(err)
	}

	if _, outcome, err := s.Complete(ctx, deleted.ID, revDeleted, now, now); err != nil || outcome != OutcomeGone {
		t.Fatalf("deleted: %v, %v", outcome, err)
	}
	if _, err := s.Get(deleted.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted job was resurrected")
	}

	got, outcome, err := s.Complete(ctx, moved.ID, revMoved, now, now)
	if err != nil || outcome != OutcomeSuperseded {
		t.Fatalf("moved: %v, %v", outcome, err)
	}
	if !got.ExecuteAt.Equal(target.ExecuteAt) {
		t.Fatalf("modified schedule overwritten: %s", got.ExecuteAt)
	}
}

func TestClaimRejectsNotDue(t *testing.T) {
	t.Parallel()
	s := NewJobStore(NewMemory(), logx.Nop())
	j := newJob(t, t0.Add(time.Hour), jobs.Once())
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Claim(j.ID, t0); !IsNotDue(err) {
		t.Fatalf("Claim err = %v, want not due", err)
	}
	if _, _, err := s.Claim("missing", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Claim err = %v, want ErrNotFound", err)
	}
}

func TestDueOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJobStore(NewMemory(), logx.Nop())
	var want []string
	for _, off := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute, time.Hour} {
		j := newJob(t, t0.Add(off), jobs.Once())
		if err := s.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
		if off != time.Hour {
			want = append(want, j.ID)
		}
	}
	want = []string{want[1], want[2], want[0]}
	var got []string
	for _, j := range s.Due(t0.Add(10 * time.Minute)) {
		got = append(got, j.ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Due order (-want +got):\n%s", diff)
	}
}
