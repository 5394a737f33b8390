package jobs

import (
	"fmt"
	"strings"
	"time"
)

const displayTime = "2006-01-02 15:04:05 UTC"

// FormatJob renders a job for operators.
func FormatJob(j Job, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", j.ID)
	if j.Action != nil {
		fmt.Fprintf(&b, "- action: %s (%s)\n", j.Action.Describe(), j.Action.Kind())
	}
	fmt.Fprintf(&b, "- next run: %s (%s)\n", j.ExecuteAt.UTC().Format(displayTime), Until(j.ExecuteAt, now))
	fmt.Fprintf(&b, "- repeat: %s\n", j.Repeat.String())
	fmt.Fprintf(&b, "- created: %s\n", j.CreatedAt.UTC().Format(displayTime))
	if j.LastExecutedAt != nil {
		fmt.Fprintf(&b, "- last run: %s", j.LastExecutedAt.UTC().Format(displayTime))
	} else {
		b.WriteString("- last run: never")
	}
	return b.String()
}

// FormatLine renders a job as a single list entry.
func FormatLine(j Job, now time.Time) string {
	desc := ""
	if j.Action != nil {
		desc = j.Action.Describe()
	}
	return fmt.Sprintf("%s  %s (%s)  %s  %s", j.ID, j.ExecuteAt.UTC().Format(displayTime), Until(j.ExecuteAt, now), j.Repeat.String(), desc)
}

// Until describes t relative to now, e.g. "in 2h5m" or "3m ago".
func Until(t, now time.Time) string {
	d := t.Sub(now).Round(time.Second)
	switch {
	case d == 0:
		return "now"
	case d > 0:
		return "in " + compactDuration(d)
	default:
		return compactDuration(-d) + " ago"
	}
}

func compactDuration(d time.Duration) string {
	if d >= 48*time.Hour {
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		if hours == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	s := d.String()
	if d >= time.Minute && d%time.Minute == 0 {
		s = strings.TrimSuffix(s, "0s")
	}
	if d >= time.Hour && d%time.Hour == 0 {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
