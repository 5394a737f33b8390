package jobs

import (
	"strings"
	"testing"
	"time"
)

func TestMarshalJobRoundTripKeepsEveryField(t *testing.T) {
	t.Parallel()
	now := date(2024, time.March, 1, 10, 0)
	last := date(2024, time.March, 1, 9, 0)
	actions := []Action{
		RoleRemoval{ChatID: -100, UserID: 7, Role: "muted"},
		RoleAddition{ChatID: -100, UserID: 7, Role: "admin"},
		Unban{ChatID: -100, UserID: 8},
		Echo{ChatID: -100, ThreadID: 3, Text: "stand-up", RequestedBy: 9},
		BannerRotation{ChatID: -100, Dir: "/srv/banners"},
	}
	for _, a := range actions {
		a := a
		t.Run(string(a.Kind()), func(t *testing.T) {
			t.Parallel()
			j, err := New(a, now.Add(time.Hour), Relative(Interval{N: 2, Unit: UnitMonth}), now)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			j.LastExecutedAt = &last

			b, err := MarshalJob(j)
			if err != nil {
				t.Fatalf("MarshalJob: %v", err)
			}
			got, err := UnmarshalJob(b)
			if err != nil {
				t.Fatalf("UnmarshalJob: %v\n%s", err, b)
			}
			if got.ID != j.ID || !got.CreatedAt.Equal(j.CreatedAt) || !got.ExecuteAt.Equal(j.ExecuteAt) {
				t.Fatalf("identity changed: %+v vs %+v", got, j)
			}
			if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(last) {
				t.Fatalf("last executed = %v", got.LastExecutedAt)
			}
			if got.Repeat != j.Repeat {
				t.Fatalf("repeat = %+v, want %+v", got.Repeat, j.Repeat)
			}
			if got.Action != a {
				t.Fatalf("action = %#v, want %#v", got.Action, a)
			}
		})
	}
}

func TestUnmarshalJobRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	raw := `{"id":"x","created_at":"2024-01-01T00:00:00Z","execute_at":"2024-01-02T00:00:00Z",` +
		`"repeat":{"kind":"none"},"action":{"kind":"teleport","data":{}}}`
	_, err := UnmarshalJob([]byte(raw))
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("err = %v, want unknown kind error", err)
	}
}

func TestUnmarshalJobRejectsInvalidAction(t *testing.T) {
	t.Parallel()
	raw := `{"id":"x","created_at":"2024-01-01T00:00:00Z","execute_at":"2024-01-02T00:00:00Z",` +
		`"repeat":{"kind":"daily"},"action":{"kind":"echo","data":{"chat_id":5,"text":"  "}}}`
	if _, err := UnmarshalJob([]byte(raw)); err == nil {
		t.Fatal("expected validation error for empty echo text")
	}
}

func TestRepeatJSONOmitsIntervalForFixedKinds(t *testing.T) {
	t.Parallel()
	b, err := Daily().MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"kind":"daily"}` {
		t.Fatalf("daily = %s", got)
	}
	var p RepeatPolicy
	if err := p.UnmarshalJSON([]byte(`{"kind":"relative","every":{"n":0,"unit":"day"}}`)); err == nil {
		t.Fatal("zero interval accepted")
	}
}

func TestNewRejectsPast(t *testing.T) {
	t.Parallel()
	now := date(2024, time.March, 1, 10, 0)
	if _, err := New(Echo{ChatID: 1, Text: "x"}, now.Add(-time.Second), Once(), now); err == nil {
		t.Fatal("expected ErrPast")
	}
}

func TestUntil(t *testing.T) {
	t.Parallel()
	now := date(2024, time.March, 1, 10, 0)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now, "now"},
		{now.Add(30 * time.Second), "in 30s"},
		{now.Add(10 * time.Minute), "in 10m"},
		{now.Add(2 * time.Hour), "in 2h"},
		{now.Add(90 * time.Minute), "in 1h30m"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(75 * time.Hour), "in 3d3h"},
	}
	for _, tt := range tests {
		if got := Until(tt.at, now); got != tt.want {
			t.Errorf("Until(%s) = %q, want %q", tt.at.Sub(now), got, tt.want)
		}
	}
}
