// Package snapshot compares consecutive extraction cycles. A Snapshot is
// the complete ordered load set from one cycle; it is replaced atomically
// at the end of each cycle and never mutated in place, so Diff always
// compares two consistent sets.
package snapshot

import (
	"time"

	"github.com/hazyhaar/boardwatch/board"
)

// Snapshot is the load set from the most recently completed cycle.
type Snapshot struct {
	CycleID string
	Loads   []board.Load
	TakenAt time.Time
}

// New builds a snapshot. The slice is owned by the snapshot from here on.
func New(cycleID string, loads []board.Load) *Snapshot {
	return &Snapshot{CycleID: cycleID, Loads: loads, TakenAt: time.Now()}
}

// byID builds the previous-cycle lookup.
func (s *Snapshot) byID() map[string]board.Load {
	m := make(map[string]board.Load, len(s.Loads))
	for _, l := range s.Loads {
		m[l.ID] = l
	}
	return m
}

// Diff flags the loads in current that are new or price-changed relative
// to previous and returns that subset. The flags are also set on the
// current slice in place, so the full set carries them too. Unchanged
// loads are excluded from the returned subset.
//
// Price comparison is exact — prices are normalised to fixed decimal
// granularity upstream, so an epsilon would only hide real changes.
func Diff(current []board.Load, previous *Snapshot) []board.Load {
	var prev map[string]board.Load
	if previous != nil {
		prev = previous.byID()
	}

	var changed []board.Load
	for i := range current {
		old, ok := prev[current[i].ID]
		switch {
		case !ok:
			current[i].IsNew = true
			changed = append(changed, current[i])
		case old.Price != current[i].Price:
			current[i].PriceChanged = true
			p := old.Price
			current[i].PreviousPrice = &p
			changed = append(changed, current[i])
		}
	}
	return changed
}
