// Package filter evaluates loads against the active criteria.
//
// Matching is a conjunction of independent short-circuiting predicates in
// a fixed order, cheapest and most discriminating first. No predicate has
// side effects; the only cross-load state is the per-cycle similar-route
// suppression, which lives in Cycle rather than in the criteria.
package filter

import (
	"strings"
	"time"

	"github.com/hazyhaar/boardwatch/board"
)

// Cycle holds the per-cycle state for similar-entry suppression. Create
// one per extraction cycle and discard it when the cycle completes.
type Cycle struct {
	criteria board.Criteria
	accepted map[string]bool // origin|destination routes already accepted
}

// NewCycle starts a filtering cycle against an immutable criteria snapshot.
func NewCycle(c board.Criteria) *Cycle {
	return &Cycle{criteria: c, accepted: make(map[string]bool)}
}

// Matches evaluates one load. Accepted loads are recorded for the
// similar-route suppression of later loads in the same cycle.
func (cy *Cycle) Matches(l board.Load) bool {
	c := cy.criteria

	if c.DistanceMin > 0 && l.Distance < c.DistanceMin {
		return false
	}
	if c.DistanceMax > 0 && l.Distance > c.DistanceMax {
		return false
	}
	if c.PriceMin > 0 && l.Price < c.PriceMin {
		return false
	}
	if c.StopsMax > 0 && l.Stops > c.StopsMax {
		return false
	}
	if c.DeadheadMax > 0 && l.Deadhead > c.DeadheadMax {
		return false
	}
	if !departsBy(l.Schedule, c.LatestDeparture) {
		return false
	}
	if !inBucket(l.Schedule, c.Duration) {
		return false
	}
	if !passesText(l, c.Text) {
		return false
	}
	if c.HideSimilar {
		route := strings.ToLower(l.Origin) + "|" + strings.ToLower(l.Destination)
		if cy.accepted[route] {
			return false
		}
		cy.accepted[route] = true
	}
	return true
}

// departsBy checks the pickup time of day against the bound. The predicate
// is skipped (passes) when either side is unset or unparseable — the
// schedule text is best-effort.
func departsBy(schedule, latest string) bool {
	if latest == "" {
		return true
	}
	bound, err := time.Parse("15:04", latest)
	if err != nil {
		return true
	}
	dep, ok := firstClock(schedule)
	if !ok {
		return true
	}
	if dep.Hour() > bound.Hour() {
		return false
	}
	if dep.Hour() == bound.Hour() && dep.Minute() > bound.Minute() {
		return false
	}
	return true
}

// inBucket classifies the schedule span. "any" always passes, as does a
// schedule that does not carry two parseable dates.
func inBucket(schedule string, bucket board.DurationBucket) bool {
	if bucket == "" || bucket == board.DurationAny {
		return true
	}
	start, end, ok := scheduleSpan(schedule)
	if !ok {
		return true
	}
	days := daysBetween(start, end)
	switch bucket {
	case board.DurationSameDay:
		return days == 0
	case board.DurationOvernight:
		return days == 1
	case board.DurationMultiDay:
		return days >= 2
	}
	return true
}

func passesText(l board.Load, f *board.TextFilter) bool {
	if f == nil || f.Text == "" {
		return true
	}
	var field string
	switch f.Field {
	case "origin":
		field = l.Origin
	case "destination":
		field = l.Destination
	case "schedule":
		field = l.Schedule
	default:
		field = l.Origin + " " + l.Destination
	}
	contains := strings.Contains(strings.ToLower(field), strings.ToLower(f.Text))
	switch f.Mode {
	case board.TextExclude:
		return !contains
	case board.TextWhitelist:
		return contains
	}
	return true
}
