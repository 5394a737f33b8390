package timeexpr

import (
	"fmt"
	"strings"
)

// Message formats. The first verb is always the offending text, already
// wrapped in backticks. Callers show these to users verbatim.
const (
	msgEmpty        = "Expected a time, but the text is empty."
	msgNotNumber    = "%s is not a number."
	msgMissingUnit  = "%s is missing a unit of time after it."
	msgNotUnit      = "%s is not a unit of time; use years, months, weeks, days, hours, minutes or seconds."
	msgNotPositive  = "%s must be a positive whole number."
	msgJustNumber   = "%s is just a number, not a time of day; add minutes or am/pm."
	msgNotClock     = "%s is not a time of day."
	msgBadOffset    = "%s is not a valid UTC offset; use something like UTC+2 or UTC-5:30."
	msgNotWeekday   = "%s is not a day of the week."
	msgNotMonthDay  = "%s is not a day of the month."
	msgNotMonth     = "%s is not a month."
	msgNoSuchDay    = "%s does not exist; %s has only %d days."
	msgInPast       = "%s is in the past."
	msgNotTimestamp = "%s is not a valid timestamp."
	msgTooFar       = "%s is too far in the future."
	msgNeedsClock   = "%s needs a time of day after it."
	msgNeedsMonth   = "%s needs a month after it."
	msgNeedsWeekday = "%s needs a day of the week after it."
	msgNeedsDate    = "%s needs a date after it."
	msgNeedsAfter   = "%s needs %s after it."
	msgNotSchedule  = "%s is not a schedule; use day, week, year, a day of the week or an interval."
	msgNotTime      = "%s does not look like a time."
)

// ParseError explains why a text could not be read as a time. Reason names
// the failing text; Alternatives holds what the other phrasings objected to
// when no leading keyword fixed the phrasing.
type ParseError struct {
	Input        string
	Phrasing     string
	Fragment     string
	Reason       string
	Example      string
	Alternatives []Alternative
}

// Alternative is a phrasing that was tried and rejected.
type Alternative struct {
	Phrasing string
	Reason   string
	Example  string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	if e.Example != "" {
		fmt.Fprintf(&b, " Example: `%s`", e.Example)
	}
	if len(e.Alternatives) > 0 {
		b.WriteString("\nDid you mean:")
		for _, a := range e.Alternatives {
			fmt.Fprintf(&b, "\n- %s: %s Example: `%s`", a.Phrasing, a.Reason, a.Example)
		}
	}
	return b.String()
}

func quote(s string) string { return "`" + s + "`" }

// failure is a single phrasing's objection.
type failure struct {
	phrase   phrasing
	fragment string
	reason   string
}

func newFailure(ph phrasing, fragment, format string, args ...any) *failure {
	return &failure{
		phrase:   ph,
		fragment: fragment,
		reason:   fmt.Sprintf(format, append([]any{quote(fragment)}, args...)...),
	}
}

func (s *state) parseError(fg *failure, alts ...*failure) *ParseError {
	info := phrasings[fg.phrase]
	e := &ParseError{
		Input:    s.input,
		Phrasing: info.name,
		Fragment: fg.fragment,
		Reason:   fg.reason,
		Example:  info.example,
	}
	for _, a := range alts {
		if a != nil {
			e.Alternatives = append(e.Alternatives, alternative(a))
		}
	}
	return e
}

func alternative(f *failure) Alternative {
	info := phrasings[f.phrase]
	return Alternative{Phrasing: info.name, Reason: f.reason, Example: info.example}
}
