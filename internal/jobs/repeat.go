package jobs

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Unit is a unit of time an Interval is counted in.
type Unit string

const (
	UnitSecond Unit = "second"
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitYear   Unit = "year"
)

// fixed returns the exact length of one unit, or false for calendar units
// (months and years) whose length depends on the date they are applied to.
func (u Unit) fixed() (time.Duration, bool) {
	switch u {
	case UnitSecond:
		return time.Second, true
	case UnitMinute:
		return time.Minute, true
	case UnitHour:
		return time.Hour, true
	case UnitDay:
		return 24 * time.Hour, true
	case UnitWeek:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func (u Unit) months() (int, bool) {
	switch u {
	case UnitMonth:
		return 1, true
	case UnitYear:
		return 12, true
	default:
		return 0, false
	}
}

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	if _, ok := u.fixed(); ok {
		return true
	}
	_, ok := u.months()
	return ok
}

// maxYear bounds every computed instant; anything later is rejected as
// "too far in the future" rather than overflowing.
const maxYear = 9999

// Interval is N units of time, e.g. {N: 10, Unit: UnitMinute}.
type Interval struct {
	N    int  `json:"n"`
	Unit Unit `json:"unit"`
}

func (iv Interval) Valid() bool { return iv.N > 0 && iv.Unit.Valid() }

// AddTo returns t moved forward by the interval. Month and year steps keep
// the day of month, clamped to the length of the target month.
func (iv Interval) AddTo(t time.Time) (time.Time, error) {
	return iv.shift(t, 1)
}

// SubFrom returns t moved backward by the interval.
func (iv Interval) SubFrom(t time.Time) (time.Time, error) {
	return iv.shift(t, -1)
}

func (iv Interval) shift(t time.Time, sign int) (time.Time, error) {
	if !iv.Valid() {
		return time.Time{}, fmt.Errorf("invalid interval %q", iv.String())
	}
	if d, ok := iv.Unit.fixed(); ok {
		if int64(iv.N) > int64(time.Duration(math.MaxInt64)/d) {
			return time.Time{}, ErrOutOfRange
		}
		out := t.Add(time.Duration(sign) * time.Duration(iv.N) * d)
		if out.Year() > maxYear || out.Year() < 1 {
			return time.Time{}, ErrOutOfRange
		}
		return out, nil
	}
	m, _ := iv.Unit.months()
	if iv.N > maxYear*12 {
		return time.Time{}, ErrOutOfRange
	}
	out := addMonthsClamped(t, sign*iv.N*m, t.Day())
	if out.Year() > maxYear || out.Year() < 1 {
		return time.Time{}, ErrOutOfRange
	}
	return out, nil
}

// Duration returns the exact length of a fixed interval, or false for
// intervals counted in months or years.
func (iv Interval) Duration() (time.Duration, bool) {
	d, ok := iv.Unit.fixed()
	if !ok {
		return 0, false
	}
	return time.Duration(iv.N) * d, true
}

func (iv Interval) String() string {
	if iv.N == 1 {
		return "1 " + string(iv.Unit)
	}
	return strconv.Itoa(iv.N) + " " + string(iv.Unit) + "s"
}

// RepeatKind selects how a job is rescheduled after it fires.
type RepeatKind string

const (
	RepeatNone     RepeatKind = "none"
	RepeatRelative RepeatKind = "relative"
	RepeatDaily    RepeatKind = "daily"
	RepeatWeekly   RepeatKind = "weekly"
	RepeatYearly   RepeatKind = "yearly"
)

// RepeatPolicy is the rule for a job's next execution time.
//
// Anchor is the day of month of the first occurrence. It is recorded for
// calendar repeats (month/year intervals and Yearly) so a job created on the
// 31st goes back to the 31st after passing through shorter months.
type RepeatPolicy struct {
	Kind   RepeatKind
	Every  Interval
	Anchor int
}

func Once() RepeatPolicy   { return RepeatPolicy{Kind: RepeatNone} }
func Daily() RepeatPolicy  { return RepeatPolicy{Kind: RepeatDaily} }
func Weekly() RepeatPolicy { return RepeatPolicy{Kind: RepeatWeekly} }
func Yearly() RepeatPolicy { return RepeatPolicy{Kind: RepeatYearly} }

func Relative(iv Interval) RepeatPolicy {
	return RepeatPolicy{Kind: RepeatRelative, Every: iv}
}

// Repeats reports whether jobs with this policy survive execution.
func (p RepeatPolicy) Repeats() bool {
	return p.Kind != RepeatNone && p.Kind != ""
}

func (p RepeatPolicy) Validate() error {
	switch p.Kind {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatYearly:
		return nil
	case RepeatRelative:
		if !p.Every.Valid() {
			return fmt.Errorf("relative repeat needs a positive interval, got %q", p.Every.String())
		}
		return nil
	case "":
		return nil
	default:
		return fmt.Errorf("unknown repeat kind %q", p.Kind)
	}
}

// anchored returns p with Anchor filled from the first occurrence when the
// policy steps by calendar months.
func (p RepeatPolicy) anchored(first time.Time) RepeatPolicy {
	if p.Anchor != 0 {
		return p
	}
	if _, ok := p.monthStep(); ok {
		p.Anchor = first.Day()
	}
	return p
}

func (p RepeatPolicy) fixedStep() (time.Duration, bool) {
	switch p.Kind {
	case RepeatDaily:
		return 24 * time.Hour, true
	case RepeatWeekly:
		return 7 * 24 * time.Hour, true
	case RepeatRelative:
		return p.Every.Duration()
	default:
		return 0, false
	}
}

func (p RepeatPolicy) monthStep() (int, bool) {
	switch p.Kind {
	case RepeatYearly:
		return 12, true
	case RepeatRelative:
		m, ok := p.Every.Unit.months()
		if !ok {
			return 0, false
		}
		return m * p.Every.N, true
	default:
		return 0, false
	}
}

// Advance returns the first occurrence of the schedule that is strictly
// after now, starting from at. If at is already after now it is returned
// unchanged, so calling Advance on its own result is a no-op until that
// time passes. Missed occurrences are skipped, not replayed.
//
// The second result is false for policies that do not repeat.
func (p RepeatPolicy) Advance(at, now time.Time) (time.Time, bool) {
	at = at.UTC()
	if at.After(now) {
		return at, p.Repeats()
	}
	if d, ok := p.fixedStep(); ok && d > 0 {
		k := now.Sub(at)/d + 1
		return at.Add(k * d), true
	}
	if m, ok := p.monthStep(); ok && m > 0 {
		anchor := p.Anchor
		if anchor == 0 {
			anchor = at.Day()
		}
		// Jump close to now first so long outages stay cheap, then step.
		gap := monthsBetween(at, now)
		k := gap/m - 1
		if k < 1 {
			k = 1
		}
		for {
			next := addMonthsClamped(at, k*m, anchor)
			if next.After(now) {
				return next, true
			}
			k++
		}
	}
	return time.Time{}, false
}

// Next returns the occurrence following prev, fast-forwarded past now. The
// result is always strictly after prev, even when prev is in the future.
func (p RepeatPolicy) Next(prev, now time.Time) (time.Time, bool) {
	if !p.Repeats() {
		return time.Time{}, false
	}
	if prev.After(now) {
		now = prev
	}
	return p.Advance(prev, now)
}

// Period is an approximate length of one repetition; 0 for one-shot jobs.
func (p RepeatPolicy) Period() time.Duration {
	if d, ok := p.fixedStep(); ok {
		return d
	}
	if m, ok := p.monthStep(); ok {
		return time.Duration(m) * 30 * 24 * time.Hour
	}
	return 0
}

func (p RepeatPolicy) String() string {
	switch p.Kind {
	case RepeatDaily:
		return "daily"
	case RepeatWeekly:
		return "weekly"
	case RepeatYearly:
		return "yearly"
	case RepeatRelative:
		return "every " + p.Every.String()
	default:
		return "once"
	}
}

type repeatJSON struct {
	Kind   RepeatKind `json:"kind"`
	Every  *Interval  `json:"every,omitempty"`
	Anchor int        `json:"anchor,omitempty"`
}

func (p RepeatPolicy) MarshalJSON() ([]byte, error) {
	kind := p.Kind
	if kind == "" {
		kind = RepeatNone
	}
	out := repeatJSON{Kind: kind, Anchor: p.Anchor}
	if kind == RepeatRelative {
		iv := p.Every
		out.Every = &iv
	}
	return json.Marshal(out)
}

func (p *RepeatPolicy) UnmarshalJSON(b []byte) error {
	var in repeatJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = RepeatPolicy{Kind: in.Kind, Anchor: in.Anchor}
	if in.Every != nil {
		p.Every = *in.Every
	}
	return p.Validate()
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonthsClamped moves t by the given number of months, putting the result
// on day min(anchor, days in target month) at the same clock time.
func addMonthsClamped(t time.Time, months, anchor int) time.Time {
	y, m, _ := t.Date()
	total := int(m) - 1 + months
	y += floorDiv(total, 12)
	mon := time.Month(total - floorDiv(total, 12)*12 + 1)
	d := anchor
	if n := daysIn(y, mon); d > n {
		d = n
	}
	return time.Date(y, mon, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func monthsBetween(a, b time.Time) int {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return (by-ay)*12 + int(bm) - int(am)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
