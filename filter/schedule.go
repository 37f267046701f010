package filter

import (
	"regexp"
	"strings"
	"time"
)

// Schedule text is free-form board output. Parsing here is deliberately
// forgiving: anything unparseable makes the predicate pass rather than
// reject, because a scrape artefact must never hide a real load.

var clockRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

// firstClock finds the first HH:MM in the schedule text.
func firstClock(schedule string) (time.Time, bool) {
	m := clockRe.FindString(schedule)
	if m == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04", m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// spanSeparators split a pickup/delivery pair. Plain "-" is excluded: it
// appears inside dates like "2026-08-24".
var spanSeparators = []string{"—", "–", "→", " to ", " - "}

var dateLayouts = []string{
	"Jan 2, 15:04",
	"Jan 2 15:04",
	"Jan 02, 15:04",
	"01/02 15:04",
	"2006-01-02 15:04",
	"Jan 2",
	"01/02",
	"2006-01-02",
}

// scheduleSpan parses the schedule as a calendar-date pair.
func scheduleSpan(schedule string) (start, end time.Time, ok bool) {
	for _, sep := range spanSeparators {
		parts := strings.SplitN(schedule, sep, 2)
		if len(parts) != 2 {
			continue
		}
		s, okS := parseDate(parts[0])
		e, okE := parseDate(parts[1])
		if okS && okE {
			return s, e, true
		}
	}
	return time.Time{}, time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// daysBetween counts calendar-day boundaries crossed between start and end.
func daysBetween(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	s := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}
