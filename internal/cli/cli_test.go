package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chronobot/internal/app"
	"chronobot/internal/config"
	"chronobot/internal/jobs"
	logx "chronobot/pkg/logx"
)

var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// seed writes a config pointing at a file store holding js.
func seed(t *testing.T, js ...jobs.Job) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	raw := `{"storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "data", "jobs")) + `"}}`
	if err := os.WriteFile(cfgPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		t.Fatal(err)
	}
	store, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := store.Load(ctx); err != nil {
		t.Fatal(err)
	}
	for _, j := range js {
		if err := store.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func mustJob(t *testing.T, a jobs.Action, in time.Duration, lastRun *time.Time) jobs.Job {
	t.Helper()
	j, err := jobs.New(a, now.Add(in), jobs.Once(), now)
	if err != nil {
		t.Fatal(err)
	}
	j.LastExecutedAt = lastRun
	return j
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(func() time.Time { return now })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestListFiltersByKind(t *testing.T) {
	cfg := seed(t,
		mustJob(t, jobs.Echo{ChatID: 1, Text: "tea"}, time.Hour, nil),
		mustJob(t, jobs.Unban{ChatID: 1, UserID: 7}, 2*time.Hour, nil),
	)

	out, err := run(t, "list", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `send "tea"`) || !strings.Contains(lines[1], "unban user 7") {
		t.Fatalf("list output:\n%s", out)
	}

	out, err = run(t, "list", "-c", cfg, "--kind", "unban")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "tea") || !strings.Contains(out, "unban user 7") {
		t.Fatalf("filtered output:\n%s", out)
	}

	if _, err := run(t, "list", "-c", cfg, "--kind", "nope"); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("bad kind err = %v", err)
	}
}

func TestShowDumpDeleteByPrefix(t *testing.T) {
	j := mustJob(t, jobs.Echo{ChatID: 1, Text: "tea"}, time.Hour, nil)
	cfg := seed(t, j, mustJob(t, jobs.Echo{ChatID: 1, Text: "cake"}, 3*time.Hour, nil))
	prefix := j.ID[:8]

	out, err := run(t, "show", "-c", cfg, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Job "+j.ID) || !strings.Contains(out, "(in 1h)") {
		t.Fatalf("show output:\n%s", out)
	}

	out, err = run(t, "dump", "-c", cfg, prefix)
	if err != nil {
		t.Fatal(err)
	}
	got, err := jobs.UnmarshalJob([]byte(out))
	if err != nil {
		t.Fatalf("dump is not a stored job: %v\n%s", err, out)
	}
	if diff := cmp.Diff(j.Action, got.Action); diff != "" || got.ID != j.ID {
		t.Fatalf("dumped job %s (-want +got):\n%s", got.ID, diff)
	}

	if out, err = run(t, "rm", "-c", cfg, prefix); err != nil || !strings.HasPrefix(out, "deleted "+j.ID) {
		t.Fatalf("delete = %q, %v", out, err)
	}
	out, _ = run(t, "list", "-c", cfg)
	if strings.Contains(out, "tea") || !strings.Contains(out, "cake") {
		t.Fatalf("list after delete:\n%s", out)
	}
	if _, err := run(t, "show", "-c", cfg, prefix); err == nil {
		t.Fatal("show of a deleted job should fail")
	}
}

func TestSinceListsRecentRuns(t *testing.T) {
	yesterday := now.Add(-24 * time.Hour)
	lastWeek := now.Add(-7 * 24 * time.Hour)
	cfg := seed(t,
		mustJob(t, jobs.Echo{ChatID: 1, Text: "recent"}, time.Hour, &yesterday),
		mustJob(t, jobs.Echo{ChatID: 1, Text: "old"}, time.Hour, &lastWeek),
		mustJob(t, jobs.Echo{ChatID: 1, Text: "never"}, time.Hour, nil),
	)

	out, err := run(t, "since", "-c", cfg, "2", "days", "ago")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "recent") || strings.Contains(out, "old") || strings.Contains(out, "never") {
		t.Fatalf("since output:\n%s", out)
	}
}

func TestParseHonoursOffset(t *testing.T) {
	out, err := run(t, "parse", "-c", filepath.Join(t.TempDir(), "missing.json"), "--offset", "UTC+2", "at", "21:00", "tea")
	if err != nil {
		t.Fatal(err)
	}
	want := "at:     2026-03-02T19:00:00Z (in 10h)\nrepeat: once\ntext:   tea\n"
	if out != want {
		t.Fatalf("parse output:\n%s\nwant:\n%s", out, want)
	}

	if _, err := run(t, "parse", "--offset", "UTC+2", "whenever"); err == nil {
		t.Fatal("unparseable expression should fail")
	}
}

func TestReadOnlyCommandsLeaveJournalAlone(t *testing.T) {
	cfg := seed(t, mustJob(t, jobs.Echo{ChatID: 1, Text: "tea"}, time.Hour, nil))
	data := filepath.Join(filepath.Dir(cfg), "data")
	journal := filepath.Join(data, "jobs.jobs.journal.jsonl")
	before, err := os.ReadFile(journal)
	if err != nil || len(before) == 0 {
		t.Fatalf("seeded journal = %q, %v", before, err)
	}

	for _, args := range [][]string{{"list"}, {"since", "1 day"}} {
		if _, err := run(t, append(args, "-c", cfg)...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	after, err := os.ReadFile(journal)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("journal changed by read-only commands:\n%s", after)
	}
	if _, err := os.Stat(filepath.Join(data, "jobs.jobs.snapshot.json")); !os.IsNotExist(err) {
		t.Fatalf("read-only commands wrote a snapshot: %v", err)
	}
}
