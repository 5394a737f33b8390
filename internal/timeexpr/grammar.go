package timeexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"chronobot/internal/jobs"
)

// token is one whitespace separated word of the input. start and end are
// byte offsets into the original text so the unparsed tail can be returned
// exactly as typed.
type token struct {
	text  string
	lower string
	start int
	end   int
}

func tokenize(s string) []token {
	var toks []token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, newToken(s, start, i))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, newToken(s, start, len(s)))
	}
	return toks
}

func newToken(s string, start, end int) token {
	text := s[start:end]
	return token{
		text:  text,
		lower: strings.TrimRight(strings.ToLower(text), ","),
		start: start,
		end:   end,
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var unitNames = map[string]jobs.Unit{
	"year": jobs.UnitYear, "years": jobs.UnitYear, "yr": jobs.UnitYear, "yrs": jobs.UnitYear, "y": jobs.UnitYear,
	"month": jobs.UnitMonth, "months": jobs.UnitMonth, "mo": jobs.UnitMonth, "mos": jobs.UnitMonth,
	"week": jobs.UnitWeek, "weeks": jobs.UnitWeek, "wk": jobs.UnitWeek, "wks": jobs.UnitWeek, "w": jobs.UnitWeek,
	"day": jobs.UnitDay, "days": jobs.UnitDay, "d": jobs.UnitDay,
	"hour": jobs.UnitHour, "hours": jobs.UnitHour, "hr": jobs.UnitHour, "hrs": jobs.UnitHour, "h": jobs.UnitHour,
	"minute": jobs.UnitMinute, "minutes": jobs.UnitMinute, "min": jobs.UnitMinute, "mins": jobs.UnitMinute, "m": jobs.UnitMinute,
	"second": jobs.UnitSecond, "seconds": jobs.UnitSecond, "sec": jobs.UnitSecond, "secs": jobs.UnitSecond, "s": jobs.UnitSecond,
}

func lookupWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdayNames[s]
	return wd, ok
}

func lookupMonth(s string) (time.Month, bool) {
	m, ok := monthNames[s]
	return m, ok
}

func lookupUnit(s string) (jobs.Unit, bool) {
	u, ok := unitNames[s]
	return u, ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// looksNumeric accepts anything a user could have meant as a quantity,
// including negatives and fractions, so those get a precise complaint.
func looksNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func notDigit(r rune) bool { return r < '0' || r > '9' }

// parseOrdinal reads a day number with an optional English ordinal suffix.
// The suffix must match the number: "1st", "22nd", "13th", never "1th".
func parseOrdinal(s string) (int, bool) {
	digits, suffix := s, ""
	if i := strings.IndexFunc(s, notDigit); i >= 0 {
		digits, suffix = s[:i], s[i:]
	}
	if digits == "" || len(digits) > 2 {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	if suffix != "" && suffix != ordinalSuffix(n) {
		return 0, false
	}
	return n, true
}

func ordinalSuffix(n int) string {
	if r := n % 100; r >= 11 && r <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// splitGlued splits "10m" or "3days" into its number and unit. Suffixes that
// are not units ("10am") are left for the clock grammar.
func splitGlued(s string) (string, jobs.Unit, bool) {
	i := strings.IndexFunc(s, notDigit)
	if i <= 0 {
		return "", "", false
	}
	u, ok := lookupUnit(s[i:])
	if !ok {
		return "", "", false
	}
	return s[:i], u, true
}

type clock struct {
	hour   int
	minute int
}

func hasMeridiem(s string) bool {
	return len(s) > 2 && (strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm")) && startsWithDigit(s)
}

func isMeridiem(s string) bool { return s == "am" || s == "pm" }

// parseClock reads a time of day at the start of toks: "18:00", "9:30pm",
// "9 pm", "12am", "noon". It returns the number of tokens read and, on
// failure, a message format for the offending text.
func parseClock(toks []token) (clock, int, string) {
	if len(toks) == 0 {
		return clock{}, 0, msgNotClock
	}
	body := toks[0].lower
	switch body {
	case "noon", "midday":
		return clock{hour: 12}, 1, ""
	case "midnight":
		return clock{}, 1, ""
	}
	used := 1
	meridiem := ""
	switch {
	case hasMeridiem(body):
		meridiem = body[len(body)-2:]
		body = body[:len(body)-2]
	case len(toks) > 1 && isMeridiem(toks[1].lower) && startsWithDigit(body):
		meridiem = toks[1].lower
		used = 2
	}

	hs, ms, hasColon := strings.Cut(body, ":")
	if !isDigits(hs) || len(hs) > 2 {
		return clock{}, used, msgNotClock
	}
	h, _ := strconv.Atoi(hs)
	m := 0
	if hasColon {
		if len(ms) != 2 || !isDigits(ms) {
			return clock{}, used, msgNotClock
		}
		m, _ = strconv.Atoi(ms)
		if m > 59 {
			return clock{}, used, msgNotClock
		}
	}

	if meridiem == "" {
		if !hasColon {
			return clock{}, used, msgJustNumber
		}
		if h > 23 {
			return clock{}, used, msgNotClock
		}
		return clock{hour: h, minute: m}, used, ""
	}
	if h < 1 || h > 12 {
		return clock{}, used, msgNotClock
	}
	h %= 12
	if meridiem == "pm" {
		h += 12
	}
	return clock{hour: h, minute: m}, used, ""
}

const (
	minOffset = -12 * 3600
	maxOffset = 14 * 3600
)

// looksLikeOffset reports whether s was probably meant as a UTC offset, so
// a malformed one is reported instead of being left in the remainder.
func looksLikeOffset(s string) bool {
	if strings.HasPrefix(s, "utc") || strings.HasPrefix(s, "gmt") {
		return true
	}
	return len(s) > 1 && (s[0] == '+' || s[0] == '-') && s[1] >= '0' && s[1] <= '9'
}

// parseOffset reads "UTC", "Z", "UTC+2", "UTC-5:30", "GMT+0100", "+02:00"
// and "-0700" into seconds east of UTC.
func parseOffset(s string) (int, bool) {
	s = strings.ToLower(s)
	if s == "z" {
		return 0, true
	}
	rest := s
	named := false
	if strings.HasPrefix(rest, "utc") || strings.HasPrefix(rest, "gmt") {
		rest = rest[3:]
		named = true
	}
	if rest == "" {
		return 0, named
	}
	sign := 1
	switch rest[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, false
	}
	body := rest[1:]
	var hs, ms string
	if h, m, ok := strings.Cut(body, ":"); ok {
		hs, ms = h, m
		if len(ms) != 2 {
			return 0, false
		}
	} else {
		switch len(body) {
		case 1, 2:
			hs = body
		case 3:
			hs, ms = body[:1], body[1:]
		case 4:
			hs, ms = body[:2], body[2:]
		default:
			return 0, false
		}
	}
	if !isDigits(hs) || len(hs) > 2 || (ms != "" && !isDigits(ms)) {
		return 0, false
	}
	h, _ := strconv.Atoi(hs)
	m := 0
	if ms != "" {
		m, _ = strconv.Atoi(ms)
	}
	if m > 59 {
		return 0, false
	}
	off := sign * (h*3600 + m*60)
	if off < minOffset || off > maxOffset {
		return 0, false
	}
	return off, true
}

// ParseOffset parses a UTC offset such as "UTC+2" or "-05:30".
func ParseOffset(s string) (time.Duration, error) {
	off, ok := parseOffset(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("invalid UTC offset %q", s)
	}
	return time.Duration(off) * time.Second, nil
}

const epochStyles = "tTdDfFR"

// parseEpoch reads the chat timestamp markup "<t:1700000000>" or
// "<t:1700000000:R>". shaped is true when s at least starts like one.
func parseEpoch(s string) (sec int64, shaped, ok bool) {
	if !strings.HasPrefix(s, "<t:") {
		return 0, false, false
	}
	inner, found := strings.CutSuffix(s[3:], ">")
	if !found {
		return 0, true, false
	}
	num, style, hasStyle := strings.Cut(inner, ":")
	if hasStyle && (len(style) != 1 || !strings.Contains(epochStyles, style)) {
		return 0, true, false
	}
	if !isDigits(num) {
		return 0, true, false
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, true, false
	}
	return n, true, true
}

// isYear accepts four digit years only; a bare four digit number is never a
// valid clock because 24-hour times need a colon.
func isYear(s string) bool { return len(s) == 4 && isDigits(s) }

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
