package timeexpr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"chronobot/internal/jobs"
)

var (
	newYear   = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	wednesday = time.Date(2024, time.January, 3, 12, 0, 0, 0, time.UTC)
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func mustParse(t *testing.T, text string, now time.Time) Result {
	t.Helper()
	r, err := Parse(text, now)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return r
}

func TestParseScenarios(t *testing.T) {
	t.Parallel()

	r := mustParse(t, "in 10 minutes", newYear)
	if !r.At.Equal(utc(2024, time.January, 1, 0, 10)) || r.Repeat.Repeats() {
		t.Fatalf("in 10 minutes = %+v", r)
	}

	r = mustParse(t, "on monday 9:00 UTC+0", wednesday)
	if !r.At.Equal(utc(2024, time.January, 8, 9, 0)) || r.Repeat.Repeats() {
		t.Fatalf("on monday = %+v", r)
	}

	r = mustParse(t, "every day 18:00 UTC+0", wednesday)
	if !r.At.Equal(utc(2024, time.January, 3, 18, 0)) || r.Repeat.Kind != jobs.RepeatDaily {
		t.Fatalf("every day before 18:00 = %+v", r)
	}
	r = mustParse(t, "every day 18:00 UTC+0", wednesday.Add(7*time.Hour))
	if !r.At.Equal(utc(2024, time.January, 4, 18, 0)) || r.Repeat.Kind != jobs.RepeatDaily {
		t.Fatalf("every day after 18:00 = %+v", r)
	}
}

func TestIntervalMatchesArithmetic(t *testing.T) {
	t.Parallel()
	units := []struct {
		word string
		unit jobs.Unit
		add  func(time.Time, int) time.Time
	}{
		{"seconds", jobs.UnitSecond, func(t time.Time, n int) time.Time { return t.Add(time.Duration(n) * time.Second) }},
		{"minutes", jobs.UnitMinute, func(t time.Time, n int) time.Time { return t.Add(time.Duration(n) * time.Minute) }},
		{"hours", jobs.UnitHour, func(t time.Time, n int) time.Time { return t.Add(time.Duration(n) * time.Hour) }},
		{"days", jobs.UnitDay, func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }},
		{"weeks", jobs.UnitWeek, func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }},
		{"months", jobs.UnitMonth, func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }},
		{"years", jobs.UnitYear, func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }},
	}
	for _, u := range units {
		for _, n := range []int{1, 2, 7, 30, 365} {
			in := mustParse(t, fmt.Sprintf("in %d %s", n, u.word), newYear)
			if want := u.add(newYear, n); !in.At.Equal(want) {
				t.Fatalf("in %d %s = %s, want %s", n, u.word, in.At, want)
			}
			every := mustParse(t, fmt.Sprintf("every %d %s", n, u.word), newYear)
			if !every.At.Equal(in.At) {
				t.Fatalf("every %d %s = %s, want %s", n, u.word, every.At, in.At)
			}
			want := jobs.Relative(jobs.Interval{N: n, Unit: u.unit})
			if every.Repeat != want {
				t.Fatalf("every %d %s repeat = %+v, want %+v", n, u.word, every.Repeat, want)
			}
		}
	}
}

func TestClockAlwaysAfterNow(t *testing.T) {
	t.Parallel()
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 30} {
			text := fmt.Sprintf("at %02d:%02d UTC+0", h, m)
			r := mustParse(t, text, wednesday)
			if !r.At.After(wednesday) {
				t.Fatalf("%s = %s, not after now", text, r.At)
			}
			if r.At.Sub(wednesday) > 24*time.Hour {
				t.Fatalf("%s = %s, more than a day ahead", text, r.At)
			}
			if r.At.Hour() != h || r.At.Minute() != m {
				t.Fatalf("%s = %s", text, r.At)
			}
		}
	}
}

func TestParseResolvesTimes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text   string
		now    time.Time
		want   time.Time
		repeat jobs.RepeatPolicy
		rest   string
	}{
		{"at 12:00", wednesday, utc(2024, time.January, 4, 12, 0), jobs.Once(), ""},
		{"at 9pm UTC+2", wednesday, utc(2024, time.January, 3, 19, 0), jobs.Once(), ""},
		{"at 12am", wednesday, utc(2024, time.January, 4, 0, 0), jobs.Once(), ""},
		{"at 12pm", wednesday.Add(-time.Hour), utc(2024, time.January, 3, 12, 0), jobs.Once(), ""},
		{"at 7:15 pm -05:00", wednesday, utc(2024, time.January, 4, 0, 15), jobs.Once(), ""},
		{"noon", wednesday.Add(-time.Hour), utc(2024, time.January, 3, 12, 0), jobs.Once(), ""},
		{"in 10 minutes take out   the trash", newYear, utc(2024, time.January, 1, 0, 10), jobs.Once(), "take out   the trash"},
		{"10m stretch", newYear, utc(2024, time.January, 1, 0, 10), jobs.Once(), "stretch"},
		{"on 22nd march 9:00 UTC+0", wednesday, utc(2024, time.March, 22, 9, 0), jobs.Once(), ""},
		{"on 1 jan 9:00", wednesday, utc(2025, time.January, 1, 9, 0), jobs.Once(), ""},
		{"on 29th february 9:00", utc(2025, time.March, 1, 0, 0), utc(2028, time.February, 29, 9, 0), jobs.Once(), ""},
		{"5 march 2030 9:00 launch", wednesday, utc(2030, time.March, 5, 9, 0), jobs.Once(), "launch"},
		{"<t:1704067800:R> hi", newYear, utc(2024, time.January, 1, 0, 10), jobs.Once(), "hi"},
		{"every week monday 9:00", wednesday, utc(2024, time.January, 8, 9, 0), jobs.Weekly(), ""},
		{"every fri 17:30 beer", wednesday, utc(2024, time.January, 5, 17, 30), jobs.Weekly(), "beer"},
		{"every year 5th march 9:00", wednesday, utc(2024, time.March, 5, 9, 0), jobs.Yearly(), ""},
		{"every hour", wednesday, wednesday.Add(time.Hour), jobs.Relative(jobs.Interval{N: 1, Unit: jobs.UnitHour}), ""},
		{"every 2h drink water", wednesday, wednesday.Add(2 * time.Hour), jobs.Relative(jobs.Interval{N: 2, Unit: jobs.UnitHour}), "drink water"},
		{"on Wednesday 13:00", wednesday, utc(2024, time.January, 3, 13, 0), jobs.Once(), ""},
		{"on wed 11:00", wednesday, utc(2024, time.January, 10, 11, 0), jobs.Once(), ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			r := mustParse(t, tt.text, tt.now)
			if !r.At.Equal(tt.want) {
				t.Fatalf("At = %s, want %s", r.At, tt.want)
			}
			if r.Repeat != tt.repeat {
				t.Fatalf("Repeat = %+v, want %+v", r.Repeat, tt.repeat)
			}
			if r.Remainder != tt.rest {
				t.Fatalf("Remainder = %q, want %q", r.Remainder, tt.rest)
			}
		})
	}
}

// Inputs that more than one phrasing could plausibly claim. The fixed order
// (timestamp, interval, time of day, weekday, date) decides.
func TestAmbiguousShortInputs(t *testing.T) {
	t.Parallel()
	morning := wednesday.Add(-time.Hour)
	tests := []struct {
		text string
		now  time.Time
		want time.Time
	}{
		{"12 pm", morning, utc(2024, time.January, 3, 12, 0)},
		{"9 h", wednesday, wednesday.Add(9 * time.Hour)},
		{"10am", morning, utc(2024, time.January, 4, 10, 0)},
		{"10m", wednesday, wednesday.Add(10 * time.Minute)},
		{"1 may 9:00", morning, utc(2024, time.May, 1, 9, 0)},
		{"sat 10am", morning, utc(2024, time.January, 6, 10, 0)},
		{"1 mo", wednesday, utc(2024, time.February, 3, 12, 0)},
	}
	for _, tt := range tests {
		r := mustParse(t, tt.text, tt.now)
		if !r.At.Equal(tt.want) {
			t.Errorf("%q = %s, want %s", tt.text, r.At, tt.want)
		}
	}
}

func TestParseErrorMessages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{"", "Expected a time, but the text is empty. Example: `in 10 minutes`"},
		{"   ", "Expected a time, but the text is empty. Example: `in 10 minutes`"},
		{"every", "`every` needs a schedule after it. Example: `every day 18:00 UTC+0`"},
		{"in", "`in` needs an interval after it. Example: `in 10 minutes`"},
		{"at 9", "`9` is just a number, not a time of day; add minutes or am/pm. Example: `at 18:00 UTC+0`"},
		{"at 25:00", "`25:00` is not a time of day. Example: `at 18:00 UTC+0`"},
		{"at 13pm", "`13pm` is not a time of day. Example: `at 18:00 UTC+0`"},
		{"at 9:00 UTC+99", "`UTC+99` is not a valid UTC offset; use something like UTC+2 or UTC-5:30. Example: `at 18:00 UTC+0`"},
		{"in 0 minutes", "`0` must be a positive whole number. Example: `in 10 minutes`"},
		{"in 1.5 hours", "`1.5` must be a positive whole number. Example: `in 10 minutes`"},
		{"in ten minutes", "`ten` is not a number. Example: `in 10 minutes`"},
		{"in 5 fortnights", "`fortnights` is not a unit of time; use years, months, weeks, days, hours, minutes or seconds. Example: `in 10 minutes`"},
		{"in 5", "`5` is missing a unit of time after it. Example: `in 10 minutes`"},
		{"in 100000 years", "`100000 years` is too far in the future. Example: `in 10 minutes`"},
		{"every day", "`every day` needs a time of day after it. Example: `every day 18:00 UTC+0`"},
		{"every day 9", "`9` is just a number, not a time of day; add minutes or am/pm. Example: `every day 18:00 UTC+0`"},
		{"every fortnight", "`fortnight` is not a schedule; use day, week, year, a day of the week or an interval. Example: `every day 18:00 UTC+0`"},
		{"<t:1700000000>", "`<t:1700000000>` is in the past. Example: `<t:1700000000>`"},
		{"<t:17x>", "`<t:17x>` is not a valid timestamp. Example: `<t:1700000000>`"},
		{"on 30 february 9:00", "`30 february` does not exist; February has only 29 days. Example: `on 5th march 9:00 UTC+0`\n" +
			"Did you mean:\n" +
			"- Day of the week: `30` is not a day of the week. Example: `on monday 9:00 UTC+0`"},
		{"on 29 february 2025 9:00", "`29 february 2025` does not exist; February 2025 has only 28 days. Example: `on 5th march 9:00 UTC+0`\n" +
			"Did you mean:\n" +
			"- Day of the week: `29` is not a day of the week. Example: `on monday 9:00 UTC+0`"},
		{"on funday 9:00", "`funday` is not a day of the week. Example: `on monday 9:00 UTC+0`\n" +
			"Did you mean:\n" +
			"- Date: `funday` is not a day of the month. Example: `on 5th march 9:00 UTC+0`"},
		{"10", "`10` is missing a unit of time after it. Example: `in 10 minutes`\n" +
			"Did you mean:\n" +
			"- Time of day: `10` is just a number, not a time of day; add minutes or am/pm. Example: `at 18:00 UTC+0`\n" +
			"- Day of the week: `10` is not a day of the week. Example: `on monday 9:00 UTC+0`\n" +
			"- Date: `10` needs a month after it. Example: `on 5th march 9:00 UTC+0`"},
		{"monday", "`monday` needs a time of day after it. Example: `on monday 9:00 UTC+0`\n" +
			"Did you mean:\n" +
			"- Interval: `monday` is not a number. Example: `in 10 minutes`\n" +
			"- Time of day: `monday` is not a time of day. Example: `at 18:00 UTC+0`\n" +
			"- Date: `monday` is not a day of the month. Example: `on 5th march 9:00 UTC+0`"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.text, wednesday)
		if err == nil {
			t.Errorf("Parse(%q) succeeded", tt.text)
			continue
		}
		if got := err.Error(); got != tt.want {
			t.Errorf("Parse(%q) error:\n got %q\nwant %q", tt.text, got, tt.want)
		}
	}
}

func TestExplicitYearZeroIsPast(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"on 5 march 0000 9:00", "5 march 0000 9:00"} {
		_, err := Parse(text, wednesday)
		var pe *ParseError
		if !errors.As(err, &pe) || !strings.Contains(pe.Reason, "`5 march 0000 9:00` is in the past.") {
			t.Errorf("Parse(%q) err = %v", text, err)
		}
	}
}

func TestParseErrorForegroundsByShape(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text     string
		phrasing string
		fragment string
	}{
		{"5th march 2023 9:00", "Date", "5th march 2023 9:00"},
		{"1th march 9:00", "Date", "1th"},
		{"9:75", "Time of day", "9:75"},
		{"march 5", "Date", "march"},
		{"<t:1>", "Timestamp", "<t:1>"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.text, wednesday)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) err = %v, want *ParseError", tt.text, err)
		}
		if pe.Phrasing != tt.phrasing || pe.Fragment != tt.fragment {
			t.Errorf("Parse(%q) foreground = %s/%q, want %s/%q", tt.text, pe.Phrasing, pe.Fragment, tt.phrasing, tt.fragment)
		}
	}
}

func TestParseUnknownTextListsEveryPhrasing(t *testing.T) {
	t.Parallel()
	_, err := Parse("tomorrowish please", wednesday)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(pe.Error(), "`tomorrowish` does not look like a time. Example: `in 10 minutes`\nDid you mean:") {
		t.Fatalf("message = %q", pe.Error())
	}
	if len(pe.Alternatives) != 4 {
		t.Fatalf("alternatives = %d, want 4", len(pe.Alternatives))
	}
}

func TestParserDefaultOffset(t *testing.T) {
	t.Parallel()
	p := Parser{DefaultOffset: 2 * time.Hour}
	r, err := p.Parse("at 9:00", wednesday)
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2024, time.January, 4, 7, 0); !r.At.Equal(want) {
		t.Fatalf("At = %s, want %s", r.At, want)
	}
	r, err = p.Parse("at 9:00 UTC", wednesday)
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2024, time.January, 4, 9, 0); !r.At.Equal(want) {
		t.Fatalf("explicit UTC At = %s, want %s", r.At, want)
	}
}

func TestParsePast(t *testing.T) {
	t.Parallel()
	r, err := ParsePast("2 days ago", wednesday)
	if err != nil {
		t.Fatal(err)
	}
	if want := wednesday.AddDate(0, 0, -2); !r.At.Equal(want) || r.Remainder != "" {
		t.Fatalf("ParsePast = %+v, want %s", r, want)
	}
	r, err = ParsePast("3h", wednesday)
	if err != nil || !r.At.Equal(wednesday.Add(-3*time.Hour)) {
		t.Fatalf("ParsePast(3h) = %+v, %v", r, err)
	}
	if _, err := ParsePast("yesterday", wednesday); err == nil || !strings.Contains(err.Error(), "`2 days ago`") {
		t.Fatalf("err = %v", err)
	}
}
