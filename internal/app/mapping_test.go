package app

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chronobot/internal/config"
	"chronobot/internal/storage"
	"chronobot/internal/task/scheduler"
)

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: " SQLite3 ", Path: " ./jobs.db ", CompactEvery: 50}}
	got, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := storage.Config{Driver: "sqlite", Path: "./jobs.db", BusyTimeout: time.Second, CompactEvery: 50}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("storage config (-want +got):\n%s", diff)
	}

	cfg.Storage.BusyTimeout = "soon"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("bad busy_timeout should fail")
	}
}

func TestMapSchedulerConfigDefaults(t *testing.T) {
	got, err := mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{PollInterval: "2s"}})
	if err != nil {
		t.Fatal(err)
	}
	want := scheduler.Config{
		PollInterval:   2 * time.Second,
		ActionTimeout:  scheduler.DefaultActionTimeout,
		FailureLogEach: scheduler.DefaultFailureLogEach,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scheduler config (-want +got):\n%s", diff)
	}
}

func TestParserForOffset(t *testing.T) {
	if p := ParserFor(&config.Config{}); p.DefaultOffset != 0 {
		t.Fatalf("empty offset = %s", p.DefaultOffset)
	}
	p := ParserFor(&config.Config{Scheduler: config.SchedulerConfig{DefaultOffset: "UTC+5:30"}})
	if want := 5*time.Hour + 30*time.Minute; p.DefaultOffset != want {
		t.Fatalf("offset = %s, want %s", p.DefaultOffset, want)
	}
}

func TestSmallMappings(t *testing.T) {
	if got := logTarget(&config.Config{Telegram: config.TelegramConfig{GroupLog: " -1001 "}}); got != -1001 {
		t.Fatalf("logTarget = %d", got)
	}
	if got := logTarget(&config.Config{}); got != 0 {
		t.Fatalf("empty logTarget = %d", got)
	}
	if got := muteRole(&config.Config{}); got != defaultMuteRole {
		t.Fatalf("muteRole = %q", got)
	}
	if l, err := newUserLimits(&config.Config{}); err != nil || l != nil {
		t.Fatalf("limits without a rate = %v, %v", l, err)
	}
}
