// Package queue holds pending booking requests. The queue is in-memory and
// cycle-scoped: entries whose load vanished from a later snapshot are swept
// without side effects, and nothing in the queue survives a restart.
//
// Invariants:
//   - never two entries with the same load id
//   - enqueuing an existing id replaces the entry in place, keeping its
//     position, unless the new entry is flagged new/changed — then it moves
//     to the front (fresh opportunities are time-critical)
//   - bulk enqueue orders by price descending by default
package queue

import (
	"sync"

	"github.com/hazyhaar/boardwatch/board"
)

// Entry is one pending booking request.
type Entry struct {
	LoadID   string
	Load     board.Load
	Priority float64
}

// Q is the booking queue. Safe for concurrent use: the engine loop
// enqueues while the executor goroutine dequeues.
type Q struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

// New creates an empty queue.
func New() *Q {
	return &Q{index: make(map[string]int)}
}

// Enqueue adds or replaces a load. A new/changed load jumps the queue.
func (q *Q) Enqueue(l board.Load, priority float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := Entry{LoadID: l.ID, Load: l, Priority: priority}
	front := l.IsNew || l.PriceChanged

	if pos, ok := q.index[l.ID]; ok {
		if front {
			q.removeAt(pos)
			q.pushFront(e)
		} else {
			q.entries[pos] = e
		}
		return
	}
	if front {
		q.pushFront(e)
	} else {
		q.entries = append(q.entries, e)
		q.index[l.ID] = len(q.entries) - 1
	}
}

// EnqueueAll bulk-enqueues same-cycle matches ordered by priority
// descending. New/changed loads are enqueued first so they end up ahead
// of unchanged matches regardless of price.
func (q *Q) EnqueueAll(loads []board.Load) {
	sorted := make([]board.Load, len(loads))
	copy(sorted, loads)
	// Insertion sort by price descending; board pages are small.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Price > sorted[j-1].Price; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	// Front-insertion reverses, so walk the new/changed pass backwards to
	// leave the highest price at the head.
	for i := len(sorted) - 1; i >= 0; i-- {
		if l := sorted[i]; l.IsNew || l.PriceChanged {
			q.Enqueue(l, l.Price)
		}
	}
	for _, l := range sorted {
		if !l.IsNew && !l.PriceChanged {
			q.Enqueue(l, l.Price)
		}
	}
}

// DequeueNext pops the head entry. ok is false when the queue is empty.
func (q *Q) DequeueNext() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.removeAt(0)
	return e, true
}

// Get returns the entry for a load id without removing it.
func (q *Q) Get(loadID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos, ok := q.index[loadID]
	if !ok {
		return Entry{}, false
	}
	return q.entries[pos], true
}

// Len returns the number of pending entries.
func (q *Q) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Sweep drops entries whose load id is not in keep. Called after each
// cycle so stale opportunities never reach the executor.
func (q *Q) Sweep(keep map[string]bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if keep[e.LoadID] {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}
	q.entries = kept
	q.reindex()
	return dropped
}

// Clear empties the queue.
func (q *Q) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
	q.index = make(map[string]int)
}

// callers hold q.mu for everything below.

func (q *Q) pushFront(e Entry) {
	q.entries = append([]Entry{e}, q.entries...)
	q.reindex()
}

func (q *Q) removeAt(pos int) {
	q.entries = append(q.entries[:pos], q.entries[pos+1:]...)
	q.reindex()
}

func (q *Q) reindex() {
	q.index = make(map[string]int, len(q.entries))
	for i, e := range q.entries {
		q.index[e.LoadID] = i
	}
}
