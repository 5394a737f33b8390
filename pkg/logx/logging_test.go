package logx

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "chronobot/internal/transport"
)

type chanSender struct{ got chan string }

func (c *chanSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.got <- text
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func waitText(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return ""
	}
}

func TestTelegramSinkFiltersByLevel(t *testing.T) {
	sender := &chanSender{got: make(chan string, 4)}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50},
	}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(-1001, 0)

	log.Info("quiet")
	log.Warn("job failed", String("job_id", "abc"))

	msg := waitText(t, sender.got)
	if !strings.HasPrefix(msg, "[WARN] job failed") {
		t.Fatalf("message = %q", msg)
	}
	if !strings.Contains(msg, "- job_id=abc") {
		t.Fatalf("field missing from %q", msg)
	}
	select {
	case extra := <-sender.got:
		t.Fatalf("unexpected message %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyNeedsTarget(t *testing.T) {
	sender := &chanSender{got: make(chan string, 1)}
	svc, _ := New(Config{}, sender)
	defer svc.Close()

	if svc.Notify("lost") {
		t.Fatal("Notify without a log chat should report false")
	}
	svc.SetTelegramTarget(-1001, 3)
	if !svc.Notify("  job x failed  ") {
		t.Fatal("Notify should queue")
	}
	if got := waitText(t, sender.got); got != "job x failed" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatTelegramJSONSortsFields(t *testing.T) {
	line := []byte(`{"level":"error","message":"boom","zeta":1,"alpha":"a","time":"x"}` + "\n")
	want := "[ERROR] boom\n- alpha=a\n- zeta=1"
	if got := formatTelegramJSON(line); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace": LevelTrace, " Warning ": LevelWarn, "ERROR": LevelError, "": LevelInfo, "loud": LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q) = %v want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Error("dropped", Err(nil))
}
