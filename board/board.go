// Package board defines the structured types shared by the boardwatch
// pipeline. These are the public API contract: any consumer (the engine,
// the HTTP surface, custom pipelines) imports this package to exchange
// loads, criteria, and booking outcomes.
package board

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hazyhaar/boardwatch/dom"
)

// Load is one normalised entry discovered on the monitored board.
type Load struct {
	// ID is the stable identity of the load within one monitoring session.
	// Derived from a source attribute, an element id, or a content hash.
	ID string `json:"id"`

	Price    float64 `json:"price"`
	Distance float64 `json:"distance"`
	Stops    int     `json:"stops"`
	Deadhead float64 `json:"deadhead"`

	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	// Schedule is the free-form pickup/delivery window as shown on the
	// board (e.g. "Aug 24, 06:00 — Aug 25, 18:00"). Best-effort parseable.
	Schedule string `json:"schedule"`

	// SourceRef is the originating element. Owned by the Load for the
	// lifetime of one extraction cycle; never persisted or serialised.
	SourceRef dom.Node `json:"-"`

	ObservedAt time.Time `json:"observed_at"`

	// Set by the differ.
	IsNew         bool     `json:"is_new,omitempty"`
	PriceChanged  bool     `json:"price_changed,omitempty"`
	PreviousPrice *float64 `json:"previous_price,omitempty"`
}

// DeriveID computes the fallback identity for a load that carries no source
// attribute: a hash of the route and schedule. Two extractions of the same
// underlying entry within one session yield the same value.
func DeriveID(origin, destination, schedule string) string {
	h := sha256.Sum256([]byte(origin + "\x00" + destination + "\x00" + schedule))
	return "ld_" + hex.EncodeToString(h[:12])
}

// EqualIgnoringObservation reports whether two loads describe the same
// entry with the same extracted values, ignoring observation time and
// differ flags.
func (l Load) EqualIgnoringObservation(o Load) bool {
	return l.ID == o.ID &&
		l.Price == o.Price &&
		l.Distance == o.Distance &&
		l.Stops == o.Stops &&
		l.Deadhead == o.Deadhead &&
		l.Origin == o.Origin &&
		l.Destination == o.Destination &&
		l.Schedule == o.Schedule
}

// DurationBucket classifies the span of a load's schedule.
type DurationBucket string

const (
	DurationAny       DurationBucket = "any"
	DurationSameDay   DurationBucket = "sameday"
	DurationOvernight DurationBucket = "overnight"
	DurationMultiDay  DurationBucket = "multiday"
)

// TextFilterMode selects how a text filter is applied.
type TextFilterMode string

const (
	// TextExclude rejects a load whose field contains the text.
	TextExclude TextFilterMode = "exclude"
	// TextWhitelist rejects a load whose field does NOT contain the text.
	TextWhitelist TextFilterMode = "whitelist"
)

// TextFilter is an optional substring filter on one load field.
type TextFilter struct {
	// Field is the load field to inspect: "origin", "destination" or "schedule".
	Field string         `json:"field" yaml:"field"`
	Mode  TextFilterMode `json:"mode" yaml:"mode"`
	Text  string         `json:"text" yaml:"text"`
}

// Criteria is the user-supplied filter configuration. It is treated as an
// immutable snapshot per monitoring cycle: replacing it takes effect on the
// next cycle only.
type Criteria struct {
	DistanceMin float64 `json:"distance_min" yaml:"distance_min"`
	DistanceMax float64 `json:"distance_max" yaml:"distance_max"`
	PriceMin    float64 `json:"price_min" yaml:"price_min"`
	StopsMax    int     `json:"stops_max" yaml:"stops_max"`
	DeadheadMax float64 `json:"deadhead_max" yaml:"deadhead_max"`

	// LatestDeparture bounds the pickup time of day ("15:04"). Empty means
	// unbounded; loads whose schedule cannot be parsed pass the predicate.
	LatestDeparture string `json:"latest_departure" yaml:"latest_departure"`

	Duration DurationBucket `json:"duration" yaml:"duration"`

	Text *TextFilter `json:"text_filter,omitempty" yaml:"text_filter,omitempty"`

	// HideSimilar suppresses a load when another load already accepted in
	// the same cycle shares its origin and destination.
	HideSimilar bool `json:"hide_similar" yaml:"hide_similar"`

	// PriceChangeThresholdPct gates whether a price change counts as
	// actionable (front-of-queue) rather than merely reported. Percent.
	PriceChangeThresholdPct float64 `json:"price_change_threshold_pct" yaml:"price_change_threshold_pct"`

	// AutoBook enqueues matching new/changed loads for booking without
	// operator intervention. When false, matches are reported only.
	AutoBook bool `json:"auto_book" yaml:"auto_book"`
}

// DefaultCriteria returns the criteria applied when nothing is persisted.
// Bounds are open: everything matches, nothing is auto-booked.
func DefaultCriteria() Criteria {
	return Criteria{
		Duration: DurationAny,
	}
}

// Merge overlays the non-zero fields of c onto base. Absent keys fall back
// silently — this is how persisted criteria from older versions load
// without error.
func (c Criteria) Merge(base Criteria) Criteria {
	out := base
	if c.DistanceMin != 0 {
		out.DistanceMin = c.DistanceMin
	}
	if c.DistanceMax != 0 {
		out.DistanceMax = c.DistanceMax
	}
	if c.PriceMin != 0 {
		out.PriceMin = c.PriceMin
	}
	if c.StopsMax != 0 {
		out.StopsMax = c.StopsMax
	}
	if c.DeadheadMax != 0 {
		out.DeadheadMax = c.DeadheadMax
	}
	if c.LatestDeparture != "" {
		out.LatestDeparture = c.LatestDeparture
	}
	if c.Duration != "" {
		out.Duration = c.Duration
	}
	if c.Text != nil {
		out.Text = c.Text
	}
	out.HideSimilar = c.HideSimilar
	out.AutoBook = c.AutoBook
	if c.PriceChangeThresholdPct != 0 {
		out.PriceChangeThresholdPct = c.PriceChangeThresholdPct
	}
	return out
}

// FailReason identifies why a booking attempt reached Failed.
type FailReason string

const (
	ReasonControlNotFound        FailReason = "control-not-found"
	ReasonSurfaceTimeout         FailReason = "surface-timeout"
	ReasonConfirmControlNotFound FailReason = "confirm-control-not-found"
	// ReasonConfirmationTimeout is ambiguous: the booking may have
	// succeeded server-side. Reported conservatively as a failure.
	ReasonConfirmationTimeout FailReason = "confirmation-timeout"
	ReasonStopped             FailReason = "stopped"
)

// Outcome is the terminal result of one booking attempt.
type Outcome struct {
	EntryID string     `json:"entry_id"`
	Load    Load       `json:"load"`
	Success bool       `json:"success"`
	Reason  FailReason `json:"reason,omitempty"`
	At      time.Time  `json:"at"`
}

func (o Outcome) String() string {
	if o.Success {
		return fmt.Sprintf("booked %s", o.EntryID)
	}
	return fmt.Sprintf("failed %s: %s", o.EntryID, o.Reason)
}

// SnapshotSummary is the only snapshot-derived state that survives a
// restart: counts for continuity, never the load list itself.
type SnapshotSummary struct {
	Total    int       `json:"total"`
	New      int       `json:"new"`
	Changed  int       `json:"changed"`
	Matched  int       `json:"matched"`
	CycleID  string    `json:"cycle_id"`
	CycledAt time.Time `json:"cycled_at"`
}

// Status is the point-in-time engine state reported to callers.
type Status struct {
	Running     bool      `json:"running"`
	Phase       string    `json:"phase"`
	QueueLength int       `json:"queue_length"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	Cycles      int64     `json:"cycles"`
	Booked      int64     `json:"booked"`
	Failed      int64     `json:"failed"`
}
