// Package timeexpr turns free-form text such as "in 10 minutes",
// "on monday 9:00 UTC+2" or "every day 18:00" into an absolute UTC instant
// plus a repeat policy.
package timeexpr

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"chronobot/internal/jobs"
)

// Result is a resolved expression. Remainder is the text after the
// expression, as typed.
type Result struct {
	At        time.Time
	Repeat    jobs.RepeatPolicy
	Remainder string
}

// Parser resolves expressions. The zero value reads times of day without an
// explicit offset as UTC.
type Parser struct {
	DefaultOffset time.Duration
}

var std Parser

// Parse reads an expression with the default parser.
func Parse(text string, now time.Time) (Result, error) { return std.Parse(text, now) }

// ParseDateTimeExpression is Parse under the name collaborators know it by.
func ParseDateTimeExpression(text string, now time.Time) (Result, error) {
	return std.Parse(text, now)
}

// ParsePast reads "2 days" or "2 days ago" as an instant before now.
func ParsePast(text string, now time.Time) (Result, error) { return std.ParsePast(text, now) }

type phrasing int

const (
	phraseEpoch phrasing = iota
	phraseInterval
	phraseClock
	phraseWeekday
	phraseDate
	phraseEvery
	phrasePast
)

var phrasings = [...]struct{ name, example string }{
	phraseEpoch:    {"Timestamp", "<t:1700000000>"},
	phraseInterval: {"Interval", "in 10 minutes"},
	phraseClock:    {"Time of day", "at 18:00 UTC+0"},
	phraseWeekday:  {"Day of the week", "on monday 9:00 UTC+0"},
	phraseDate:     {"Date", "on 5th march 9:00 UTC+0"},
	phraseEvery:    {"Repeating schedule", "every day 18:00 UTC+0"},
	phrasePast:     {"Past interval", "2 days ago"},
}

// match is a successful phrasing: the instant, its repeat policy and the
// index of the first token not consumed.
type match struct {
	at     time.Time
	repeat jobs.RepeatPolicy
	every  jobs.Interval
	end    int
}

type state struct {
	input  string
	toks   []token
	now    time.Time
	offset int
}

func (p Parser) newState(text string, now time.Time) *state {
	return &state{
		input:  text,
		toks:   tokenize(text),
		now:    now.UTC(),
		offset: int(p.DefaultOffset / time.Second),
	}
}

// span returns the original text of tokens [i, j).
func (s *state) span(i, j int) string {
	if j <= i {
		return ""
	}
	return s.input[s.toks[i].start:s.toks[j-1].end]
}

func (s *state) rest(i int) string {
	if i >= len(s.toks) {
		return ""
	}
	return strings.TrimSpace(s.input[s.toks[i].start:])
}

func (s *state) result(m match) Result {
	r := Result{At: m.at.UTC(), Repeat: m.repeat, Remainder: s.rest(m.end)}
	if r.Repeat.Kind == "" {
		r.Repeat = jobs.Once()
	}
	return r
}

// Parse reads the expression at the start of text. The returned instant is
// always after now.
func (p Parser) Parse(text string, now time.Time) (Result, error) {
	s := p.newState(text, now)
	if len(s.toks) == 0 {
		return Result{}, &ParseError{Input: text, Reason: msgEmpty, Example: phrasings[phraseInterval].example}
	}
	m, err := s.expression()
	if err != nil {
		return Result{}, err
	}
	return s.result(m), nil
}

// ParsePast reads a past interval. It is meant for lookups such as "jobs run
// in the last 2 days" and never for scheduling.
func (p Parser) ParsePast(text string, now time.Time) (Result, error) {
	s := p.newState(text, now)
	if len(s.toks) == 0 {
		return Result{}, &ParseError{Input: text, Reason: msgEmpty, Example: phrasings[phrasePast].example}
	}
	m, f := s.interval(0, phrasePast, -1)
	if f != nil {
		return Result{}, s.parseError(f)
	}
	if m.end < len(s.toks) && s.toks[m.end].lower == "ago" {
		m.end++
	}
	return s.result(m), nil
}

var keywordObject = map[string]string{
	"in":    "an interval",
	"at":    "a time of day",
	"on":    "a day of the week or a date",
	"every": "a schedule",
}

var keywordPhrase = map[string]phrasing{
	"in":    phraseInterval,
	"at":    phraseClock,
	"on":    phraseWeekday,
	"every": phraseEvery,
}

func (s *state) expression() (match, error) {
	head := s.toks[0]
	if obj, ok := keywordObject[head.lower]; ok {
		if len(s.toks) == 1 {
			return match{}, s.parseError(newFailure(keywordPhrase[head.lower], head.text, msgNeedsAfter, obj))
		}
		return s.committed(head.lower)
	}

	tries := []struct {
		ph  phrasing
		run func() (match, *failure)
	}{
		{phraseEpoch, func() (match, *failure) { return s.epoch(0) }},
		{phraseInterval, func() (match, *failure) { return s.interval(0, phraseInterval, 1) }},
		{phraseClock, func() (match, *failure) { return s.clock(0) }},
		{phraseWeekday, func() (match, *failure) { return s.weekday(0, phraseWeekday) }},
		{phraseDate, func() (match, *failure) { return s.date(0, phraseDate) }},
	}
	fails := make(map[phrasing]*failure, len(tries))
	for _, t := range tries {
		m, f := t.run()
		if f == nil {
			return m, nil
		}
		fails[t.ph] = f
	}

	fg, ok := s.shape()
	if !ok {
		e := &ParseError{
			Input:    s.input,
			Fragment: head.text,
			Reason:   newFailure(phraseInterval, head.text, msgNotTime).reason,
			Example:  phrasings[phraseInterval].example,
		}
		for _, ph := range []phrasing{phraseInterval, phraseClock, phraseWeekday, phraseDate} {
			e.Alternatives = append(e.Alternatives, alternative(fails[ph]))
		}
		return match{}, e
	}
	if fg == phraseEpoch {
		return match{}, s.parseError(fails[fg])
	}
	var alts []*failure
	for _, ph := range []phrasing{phraseInterval, phraseClock, phraseWeekday, phraseDate} {
		if ph != fg {
			alts = append(alts, fails[ph])
		}
	}
	return match{}, s.parseError(fails[fg], alts...)
}

// committed parses after a leading keyword. The keyword fixes the phrasing,
// so errors come from that phrasing alone.
func (s *state) committed(keyword string) (match, error) {
	var (
		m match
		f *failure
	)
	switch keyword {
	case "in":
		m, f = s.interval(1, phraseInterval, 1)
	case "at":
		m, f = s.clock(1)
	case "on":
		wm, wf := s.weekday(1, phraseWeekday)
		if wf == nil {
			return wm, nil
		}
		dm, df := s.date(1, phraseDate)
		if df == nil {
			return dm, nil
		}
		if startsWithDigit(s.toks[1].lower) {
			return match{}, s.parseError(df, wf)
		}
		return match{}, s.parseError(wf, df)
	case "every":
		m, f = s.every(1)
	}
	if f != nil {
		return match{}, s.parseError(f)
	}
	return m, nil
}

// shape picks the phrasing the user most likely meant from the first
// token, for choosing which error to show first.
func (s *state) shape() (phrasing, bool) {
	first := s.toks[0].lower
	next := ""
	if len(s.toks) > 1 {
		next = s.toks[1].lower
	}
	switch {
	case strings.HasPrefix(first, "<t:"):
		return phraseEpoch, true
	case startsWithDigit(first):
		if strings.Contains(first, ":") || hasMeridiem(first) || isMeridiem(next) {
			return phraseClock, true
		}
		if _, ok := lookupMonth(next); ok {
			return phraseDate, true
		}
		if _, err := parseOrdinalSuffixed(first); err == nil {
			return phraseDate, true
		}
		return phraseInterval, true
	case first == "noon" || first == "midday" || first == "midnight":
		return phraseClock, true
	}
	if _, ok := lookupWeekday(first); ok {
		return phraseWeekday, true
	}
	if _, ok := lookupMonth(first); ok {
		return phraseDate, true
	}
	return 0, false
}

var errNotOrdinal = errors.New("not an ordinal")

// parseOrdinalSuffixed accepts only numbers written with a suffix, which
// can only be days of the month.
func parseOrdinalSuffixed(s string) (int, error) {
	if isDigits(s) {
		return 0, errNotOrdinal
	}
	n, ok := parseOrdinal(s)
	if !ok {
		return 0, errNotOrdinal
	}
	return n, nil
}

func (s *state) interval(i int, ph phrasing, sign int) (match, *failure) {
	tok := s.toks[i]
	var (
		numText string
		unit    jobs.Unit
		end     int
	)
	if n, u, ok := splitGlued(tok.lower); ok {
		numText, unit, end = n, u, i+1
	} else {
		numText = tok.lower
		if !looksNumeric(numText) {
			return match{}, newFailure(ph, tok.text, msgNotNumber)
		}
		if i+1 >= len(s.toks) {
			return match{}, newFailure(ph, tok.text, msgMissingUnit)
		}
		u, ok := lookupUnit(s.toks[i+1].lower)
		if !ok {
			return match{}, newFailure(ph, s.toks[i+1].text, msgNotUnit)
		}
		unit, end = u, i+2
	}

	n, err := strconv.Atoi(numText)
	if errors.Is(err, strconv.ErrRange) {
		return match{}, newFailure(ph, s.span(i, end), msgTooFar)
	}
	if err != nil || n <= 0 {
		return match{}, newFailure(ph, tok.text, msgNotPositive)
	}
	iv := jobs.Interval{N: n, Unit: unit}
	var at time.Time
	if sign < 0 {
		at, err = iv.SubFrom(s.now)
	} else {
		at, err = iv.AddTo(s.now)
	}
	if err != nil {
		return match{}, newFailure(ph, s.span(i, end), msgTooFar)
	}
	return match{at: at, repeat: jobs.Once(), every: iv, end: end}, nil
}

// timeOfDay reads a clock and an optional UTC offset starting at i.
func (s *state) timeOfDay(i int, ph phrasing) (clock, *time.Location, int, *failure) {
	c, used, msg := parseClock(s.toks[i:])
	if msg != "" {
		return clock{}, nil, 0, newFailure(ph, s.span(i, i+used), msg)
	}
	end := i + used
	off := s.offset
	if end < len(s.toks) {
		t := s.toks[end]
		if o, ok := parseOffset(t.lower); ok {
			off = o
			end++
		} else if looksLikeOffset(t.lower) {
			return clock{}, nil, 0, newFailure(ph, t.text, msgBadOffset)
		}
	}
	return c, time.FixedZone("", off), end, nil
}

func (s *state) clock(i int) (match, *failure) {
	c, loc, end, f := s.timeOfDay(i, phraseClock)
	if f != nil {
		return match{}, f
	}
	local := s.now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, loc)
	if !at.After(s.now) {
		at = at.AddDate(0, 0, 1)
	}
	return match{at: at, repeat: jobs.Once(), end: end}, nil
}

func (s *state) weekday(i int, ph phrasing) (match, *failure) {
	tok := s.toks[i]
	wd, ok := lookupWeekday(tok.lower)
	if !ok {
		return match{}, newFailure(ph, tok.text, msgNotWeekday)
	}
	if i+1 >= len(s.toks) {
		return match{}, newFailure(ph, tok.text, msgNeedsClock)
	}
	c, loc, end, f := s.timeOfDay(i+1, ph)
	if f != nil {
		return match{}, f
	}
	local := s.now.In(loc)
	days := (int(wd) - int(local.Weekday()) + 7) % 7
	at := time.Date(local.Year(), local.Month(), local.Day()+days, c.hour, c.minute, 0, 0, loc)
	if !at.After(s.now) {
		at = at.AddDate(0, 0, 7)
	}
	return match{at: at, repeat: jobs.Once(), end: end}, nil
}

// yearsAhead bounds the search for the next Feb 29.
const yearsAhead = 8

func (s *state) date(i int, ph phrasing) (match, *failure) {
	tok := s.toks[i]
	day, ok := parseOrdinal(tok.lower)
	if !ok || day < 1 || day > 31 {
		return match{}, newFailure(ph, tok.text, msgNotMonthDay)
	}
	if i+1 >= len(s.toks) {
		return match{}, newFailure(ph, tok.text, msgNeedsMonth)
	}
	mon, ok := lookupMonth(s.toks[i+1].lower)
	if !ok {
		return match{}, newFailure(ph, s.toks[i+1].text, msgNotMonth)
	}
	j := i + 2
	year, hasYear := 0, false
	if j < len(s.toks) && isYear(s.toks[j].lower) {
		year, _ = strconv.Atoi(s.toks[j].lower)
		hasYear = true
		j++
	}
	frag := s.span(i, j)
	if hasYear {
		if n := daysIn(year, mon); day > n {
			return match{}, newFailure(ph, frag, msgNoSuchDay, mon.String()+" "+strconv.Itoa(year), n)
		}
	} else if n := daysIn(2000, mon); day > n {
		return match{}, newFailure(ph, frag, msgNoSuchDay, mon.String(), n)
	}
	if j >= len(s.toks) {
		return match{}, newFailure(ph, frag, msgNeedsClock)
	}
	c, loc, end, f := s.timeOfDay(j, ph)
	if f != nil {
		return match{}, f
	}

	if hasYear {
		at := time.Date(year, mon, day, c.hour, c.minute, 0, 0, loc)
		if !at.After(s.now) {
			return match{}, newFailure(ph, s.span(i, end), msgInPast)
		}
		return match{at: at, repeat: jobs.Once(), end: end}, nil
	}
	first := s.now.In(loc).Year()
	for y := first; y <= first+yearsAhead; y++ {
		if day > daysIn(y, mon) {
			continue
		}
		at := time.Date(y, mon, day, c.hour, c.minute, 0, 0, loc)
		if at.After(s.now) {
			return match{at: at, repeat: jobs.Once(), end: end}, nil
		}
	}
	return match{}, newFailure(ph, s.span(i, end), msgTooFar)
}

func (s *state) epoch(i int) (match, *failure) {
	tok := s.toks[i]
	sec, _, ok := parseEpoch(tok.text)
	if !ok {
		return match{}, newFailure(phraseEpoch, tok.text, msgNotTimestamp)
	}
	at := time.Unix(sec, 0).UTC()
	if at.Year() > 9999 {
		return match{}, newFailure(phraseEpoch, tok.text, msgTooFar)
	}
	if !at.After(s.now) {
		return match{}, newFailure(phraseEpoch, tok.text, msgInPast)
	}
	return match{at: at, repeat: jobs.Once(), end: i + 1}, nil
}

// every reads the repeating forms. The second token decides which:
// "day" for daily, "week" or a weekday for weekly, "year" for yearly, and a
// number or bare unit for a relative interval.
func (s *state) every(i int) (match, *failure) {
	tok := s.toks[i]
	var (
		m match
		f *failure
	)
	switch tok.lower {
	case "day", "daily":
		if i+1 >= len(s.toks) {
			return match{}, newFailure(phraseEvery, s.span(i-1, i+1), msgNeedsClock)
		}
		m, f = s.clock(i + 1)
		m.repeat = jobs.Daily()
	case "week", "weekly":
		if i+1 >= len(s.toks) {
			return match{}, newFailure(phraseEvery, s.span(i-1, i+1), msgNeedsWeekday)
		}
		m, f = s.weekday(i+1, phraseEvery)
		m.repeat = jobs.Weekly()
	case "year", "yearly":
		if i+1 >= len(s.toks) {
			return match{}, newFailure(phraseEvery, s.span(i-1, i+1), msgNeedsDate)
		}
		m, f = s.date(i+1, phraseEvery)
		m.repeat = jobs.Yearly()
	default:
		if _, ok := lookupWeekday(tok.lower); ok {
			m, f = s.weekday(i, phraseEvery)
			m.repeat = jobs.Weekly()
			break
		}
		if _, _, glued := splitGlued(tok.lower); glued || looksNumeric(tok.lower) {
			m, f = s.interval(i, phraseEvery, 1)
			m.repeat = jobs.Relative(m.every)
			break
		}
		if u, ok := lookupUnit(tok.lower); ok {
			iv := jobs.Interval{N: 1, Unit: u}
			at, err := iv.AddTo(s.now)
			if err != nil {
				return match{}, newFailure(phraseEvery, tok.text, msgTooFar)
			}
			return match{at: at, repeat: jobs.Relative(iv), every: iv, end: i + 1}, nil
		}
		return match{}, newFailure(phraseEvery, tok.text, msgNotSchedule)
	}
	if f != nil {
		f.phrase = phraseEvery
		return match{}, f
	}
	return m, nil
}
