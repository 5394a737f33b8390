package jobs

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestAdvanceFixedPolicies(t *testing.T) {
	t.Parallel()
	now := date(2024, time.March, 10, 12, 0)
	tests := []struct {
		name   string
		policy RepeatPolicy
		at     time.Time
		want   time.Time
	}{
		{name: "daily one step", policy: Daily(), at: date(2024, time.March, 10, 9, 0), want: date(2024, time.March, 11, 9, 0)},
		{name: "daily many missed", policy: Daily(), at: date(2024, time.March, 1, 18, 0), want: date(2024, time.March, 10, 18, 0)},
		{name: "daily exactly now", policy: Daily(), at: now, want: now.Add(24 * time.Hour)},
		{name: "weekly", policy: Weekly(), at: date(2024, time.February, 19, 9, 0), want: date(2024, time.March, 11, 9, 0)},
		{name: "relative minutes", policy: Relative(Interval{N: 15, Unit: UnitMinute}), at: date(2024, time.March, 10, 11, 50), want: date(2024, time.March, 10, 12, 5)},
		{name: "future untouched", policy: Daily(), at: date(2024, time.March, 12, 0, 0), want: date(2024, time.March, 12, 0, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.policy.Advance(tt.at, now)
			if !ok {
				t.Fatalf("Advance returned ok=false")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Advance = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAdvanceDailyIsIdempotent(t *testing.T) {
	t.Parallel()
	now := date(2024, time.June, 1, 7, 30)
	at := date(2024, time.May, 20, 18, 15) // 12 days stale

	next, ok := Daily().Advance(at, now)
	if !ok || !next.After(now) {
		t.Fatalf("Advance = %s (ok=%v), want after %s", next, ok, now)
	}
	if next.Hour() != 18 || next.Minute() != 15 {
		t.Fatalf("time of day drifted: %s", next)
	}
	again, _ := Daily().Advance(next, now.Add(time.Hour))
	if !again.Equal(next) {
		t.Fatalf("second Advance moved %s to %s", next, again)
	}
}

func TestNextStrictlyIncreases(t *testing.T) {
	t.Parallel()
	prev := date(2024, time.January, 1, 0, 0)
	for _, p := range []RepeatPolicy{Daily(), Weekly(), Yearly(), Relative(Interval{N: 1, Unit: UnitSecond}), Relative(Interval{N: 2, Unit: UnitMonth})} {
		next, ok := p.Next(prev, prev.Add(-time.Hour))
		if !ok {
			t.Fatalf("%s: Next ok=false", p)
		}
		if !next.After(prev) {
			t.Fatalf("%s: Next = %s, not after %s", p, next, prev)
		}
	}
}

func TestAdvanceYearlyLeapDay(t *testing.T) {
	t.Parallel()
	p := Yearly().anchored(date(2024, time.February, 29, 8, 0))
	if p.Anchor != 29 {
		t.Fatalf("anchor = %d, want 29", p.Anchor)
	}
	first, _ := p.Advance(date(2024, time.February, 29, 8, 0), date(2024, time.March, 1, 0, 0))
	if want := date(2025, time.February, 28, 8, 0); !first.Equal(want) {
		t.Fatalf("first = %s, want %s", first, want)
	}
	back, _ := p.Advance(first, date(2027, time.June, 1, 0, 0))
	if want := date(2028, time.February, 29, 8, 0); !back.Equal(want) {
		t.Fatalf("leap year = %s, want %s", back, want)
	}
}

func TestAdvanceMonthlyKeepsAnchor(t *testing.T) {
	t.Parallel()
	p := Relative(Interval{N: 1, Unit: UnitMonth}).anchored(date(2024, time.January, 31, 10, 0))
	feb, _ := p.Advance(date(2024, time.January, 31, 10, 0), date(2024, time.February, 1, 0, 0))
	if want := date(2024, time.February, 29, 10, 0); !feb.Equal(want) {
		t.Fatalf("feb = %s, want %s", feb, want)
	}
	mar, _ := p.Advance(feb, feb)
	if want := date(2024, time.March, 31, 10, 0); !mar.Equal(want) {
		t.Fatalf("mar = %s, want %s", mar, want)
	}
}

func TestAdvanceLongOutageIsCheap(t *testing.T) {
	t.Parallel()
	at := date(2000, time.January, 1, 0, 0)
	now := date(2024, time.January, 1, 0, 0)
	got, ok := Relative(Interval{N: 1, Unit: UnitSecond}).Advance(at, now)
	if !ok || !got.Equal(now.Add(time.Second)) {
		t.Fatalf("Advance = %s, want %s", got, now.Add(time.Second))
	}
}

func TestOnceDoesNotRepeat(t *testing.T) {
	t.Parallel()
	if _, ok := Once().Next(date(2024, time.January, 1, 0, 0), date(2024, time.January, 2, 0, 0)); ok {
		t.Fatal("one-shot policy produced a next time")
	}
}

func TestIntervalAddToClampsMonths(t *testing.T) {
	t.Parallel()
	got, err := Interval{N: 1, Unit: UnitMonth}.AddTo(date(2023, time.January, 31, 12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := date(2023, time.February, 28, 12, 0); !got.Equal(want) {
		t.Fatalf("AddTo = %s, want %s", got, want)
	}
	if _, err := (Interval{N: 100000, Unit: UnitYear}).AddTo(date(2023, time.January, 1, 0, 0)); err == nil {
		t.Fatal("expected out of range error")
	}
}
