// Package engine wires the boardwatch pipeline together: change monitor →
// extractor → differ → filter → queue → executor, with status reporting
// and persisted settings. One Engine owns one monitored document.
//
// All cross-component state lives in the Engine value — nothing ambient —
// so multiple engines can run in one process and tests stay deterministic.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/book"
	"github.com/hazyhaar/boardwatch/dom"
	"github.com/hazyhaar/boardwatch/extract"
	"github.com/hazyhaar/boardwatch/filter"
	"github.com/hazyhaar/boardwatch/queue"
	"github.com/hazyhaar/boardwatch/snapshot"
	"github.com/hazyhaar/boardwatch/store"
)

// Notifier receives fire-and-forget notification events. Implementations
// must not block; playback is out of the engine's hands.
type Notifier interface {
	Notify(kind string)
}

// Notification kinds.
const (
	NotifyNewLoad    = "new-load"
	NotifyPriceDrop  = "price-drop"
	NotifyBooked     = "booked"
	NotifyBookFailed = "book-failed"
)

type slogNotifier struct{ logger *slog.Logger }

func (n slogNotifier) Notify(kind string) {
	n.logger.Info("notify", "kind", kind)
}

// ErrUnknownEntry is returned by Book for an id not present in the last
// snapshot or the queue.
var ErrUnknownEntry = errors.New("engine: unknown entry")

// Engine is the facade over one monitored board.
type Engine struct {
	cfg      Config
	src      dom.Source
	store    *store.Store
	logger   *slog.Logger
	notifier Notifier

	extractor *extract.Extractor
	q         *queue.Q
	exec      *book.Executor
	mon       *monitor

	// cycleBusy prevents overlapping cycles; the executor carries its own
	// single-flight guard. These are the engine's only two busy flags.
	cycleBusy atomic.Bool
	running   atomic.Bool

	mu       sync.Mutex
	criteria board.Criteria // applied at the start of each cycle
	snap     *snapshot.Snapshot

	lastCycleAt atomic.Int64 // unix millis
	cycles      atomic.Int64
	booked      atomic.Int64
	failed      atomic.Int64

	waitersMu sync.Mutex
	waiters   map[string][]chan board.Outcome
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier overrides the default slog-backed notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New creates an Engine over the given source and store.
func New(cfg Config, src dom.Source, st *store.Store, logger *slog.Logger, opts ...Option) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:     cfg,
		src:     src,
		store:   st,
		logger:  logger,
		q:       queue.New(),
		waiters: make(map[string][]chan board.Outcome),
	}
	e.notifier = slogNotifier{logger: logger}
	for _, o := range opts {
		o(e)
	}

	e.extractor = extract.New(cfg.Extract, logger)
	e.exec = book.New(src, e.q, book.Config{
		Conventions:  cfg.Booking.Conventions,
		Fill:         cfg.Booking.Fill,
		PollInterval: cfg.Booking.PollInterval,
		Deadline:     cfg.Booking.Deadline,
		SettleDelay:  cfg.Booking.SettleDelay,
		Logger:       logger,
		OnOutcome:    e.onOutcome,
	})
	e.mon = newMonitor(src, cfg.Debounce, logger, e.cycle)
	return e
}

// Start loads persisted criteria and begins monitoring. Accepted is false
// when the engine is already running.
func (e *Engine) Start(ctx context.Context, criteria *board.Criteria) bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}

	loaded := e.store.LoadCriteria(ctx)
	if criteria != nil {
		loaded = criteria.Merge(loaded)
		e.store.SaveCriteria(ctx, loaded)
	}
	e.mu.Lock()
	e.criteria = loaded
	e.mu.Unlock()

	e.exec.Resume()
	e.mon.start(ctx)
	e.logger.Info("engine: started", "auto_book", loaded.AutoBook)
	return true
}

// Stop halts monitoring and prevents further dequeues. A booking already
// mid-flight runs to its terminal state.
func (e *Engine) Stop() bool {
	if !e.running.CompareAndSwap(true, false) {
		return false
	}
	e.mon.stop()
	e.exec.Stop()
	e.logger.Info("engine: stopped")
	return true
}

// UpdateCriteria replaces the criteria. Takes effect on the next cycle.
func (e *Engine) UpdateCriteria(ctx context.Context, c board.Criteria) {
	merged := c.Merge(board.DefaultCriteria())
	e.mu.Lock()
	e.criteria = merged
	e.mu.Unlock()
	e.store.SaveCriteria(ctx, merged)
	e.logger.Info("engine: criteria updated")
}

// CheckNow forces an immediate out-of-band cycle and returns the full
// current load set.
func (e *Engine) CheckNow(ctx context.Context) []board.Load {
	e.cycle(ctx, "check-now")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return nil
	}
	out := make([]board.Load, len(e.snap.Loads))
	copy(out, e.snap.Loads)
	return out
}

// Book enqueues one entry at the front of the queue and waits for its
// terminal outcome.
func (e *Engine) Book(ctx context.Context, entryID string) (board.Outcome, error) {
	l, ok := e.findLoad(entryID)
	if !ok {
		return board.Outcome{}, ErrUnknownEntry
	}

	ch := make(chan board.Outcome, 1)
	e.waitersMu.Lock()
	e.waiters[entryID] = append(e.waiters[entryID], ch)
	e.waitersMu.Unlock()

	// Front-of-queue: an operator-requested booking is time-critical by
	// definition, same policy as a fresh observation.
	l.IsNew = true
	e.q.Enqueue(l, l.Price)
	e.exec.Resume()
	e.exec.Kick(ctx)

	select {
	case <-ctx.Done():
		e.dropWaiter(entryID, ch)
		return board.Outcome{}, ctx.Err()
	case o := <-ch:
		return o, nil
	}
}

// dropWaiter removes one abandoned waiter channel so the map never grows
// across callers that gave up before an outcome arrived.
func (e *Engine) dropWaiter(entryID string, ch chan board.Outcome) {
	e.waitersMu.Lock()
	defer e.waitersMu.Unlock()
	chans := e.waiters[entryID]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(e.waiters, entryID)
	} else {
		e.waiters[entryID] = chans
	}
}

// Status reports the engine state.
func (e *Engine) Status() board.Status {
	return board.Status{
		Running:     e.running.Load(),
		Phase:       string(e.exec.Phase()),
		QueueLength: e.q.Len(),
		LastCycleAt: time.UnixMilli(e.lastCycleAt.Load()),
		Cycles:      e.cycles.Load(),
		Booked:      e.booked.Load(),
		Failed:      e.failed.Load(),
	}
}

// Close stops the engine. The source and store are owned by the caller.
func (e *Engine) Close() {
	e.Stop()
}

// ---------- cycle ----------

// cycle runs one extract → diff → filter pass. Skipped when another cycle
// is still in progress.
func (e *Engine) cycle(ctx context.Context, trigger string) {
	if !e.cycleBusy.CompareAndSwap(false, true) {
		e.logger.Debug("engine: cycle already in progress, skipping", "trigger", trigger)
		return
	}
	defer e.cycleBusy.Store(false)

	cycleID := "cyc_" + uuid.Must(uuid.NewV7()).String()
	started := time.Now()

	e.mu.Lock()
	criteria := e.criteria // immutable snapshot for this cycle
	prev := e.snap
	e.mu.Unlock()

	current := e.extractor.Extract(e.src)
	changed := snapshot.Diff(current, prev)

	fc := filter.NewCycle(criteria)
	var matched []board.Load
	for _, l := range current {
		if fc.Matches(l) {
			matched = append(matched, l)
		}
	}

	// Replace the snapshot atomically; the old one is never mutated.
	snap := snapshot.New(cycleID, current)
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()

	// Drop queued entries whose load vanished from the board.
	keep := make(map[string]bool, len(current))
	for _, l := range current {
		keep[l.ID] = true
	}
	if dropped := e.q.Sweep(keep); dropped > 0 {
		e.logger.Debug("engine: swept stale queue entries", "dropped", dropped)
	}

	e.notifyChanges(changed, criteria)

	if criteria.AutoBook {
		e.q.EnqueueAll(e.actionable(matched, criteria))
		e.exec.Kick(ctx)
	}

	e.lastCycleAt.Store(time.Now().UnixMilli())
	e.cycles.Add(1)
	e.store.SaveSummary(ctx, board.SnapshotSummary{
		Total:    len(current),
		New:      countNew(changed),
		Changed:  len(changed) - countNew(changed),
		Matched:  len(matched),
		CycleID:  cycleID,
		CycledAt: started,
	})

	e.logger.Info("engine: cycle complete",
		"trigger", trigger,
		"loads", len(current),
		"changed", len(changed),
		"matched", len(matched),
		"duration", time.Since(started))
}

// actionable keeps the matches worth queueing: every new load, plus
// price-changed loads whose move clears the configured threshold.
// Unchanged matches ride along at the back when auto-booking.
func (e *Engine) actionable(matched []board.Load, c board.Criteria) []board.Load {
	out := make([]board.Load, 0, len(matched))
	for _, l := range matched {
		if l.PriceChanged && !clearsThreshold(l, c.PriceChangeThresholdPct) {
			l.PriceChanged = false
			l.PreviousPrice = nil
		}
		out = append(out, l)
	}
	return out
}

func clearsThreshold(l board.Load, pct float64) bool {
	if pct <= 0 || l.PreviousPrice == nil || *l.PreviousPrice == 0 {
		return true
	}
	delta := l.Price - *l.PreviousPrice
	if delta < 0 {
		delta = -delta
	}
	return delta / *l.PreviousPrice * 100 >= pct
}

func (e *Engine) notifyChanges(changed []board.Load, c board.Criteria) {
	for _, l := range changed {
		switch {
		case l.IsNew:
			e.notifier.Notify(NotifyNewLoad)
		case l.PriceChanged && clearsThreshold(l, c.PriceChangeThresholdPct):
			e.notifier.Notify(NotifyPriceDrop)
		}
	}
}

func countNew(loads []board.Load) int {
	n := 0
	for _, l := range loads {
		if l.IsNew {
			n++
		}
	}
	return n
}

func (e *Engine) findLoad(entryID string) (board.Load, bool) {
	if entry, ok := e.q.Get(entryID); ok {
		return entry.Load, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return board.Load{}, false
	}
	for _, l := range e.snap.Loads {
		if l.ID == entryID {
			return l, true
		}
	}
	return board.Load{}, false
}

// onOutcome is the executor's terminal-event callback.
func (e *Engine) onOutcome(o board.Outcome) {
	if o.Success {
		e.booked.Add(1)
		e.notifier.Notify(NotifyBooked)
	} else {
		e.failed.Add(1)
		e.notifier.Notify(NotifyBookFailed)
	}
	e.store.LogOutcome(context.Background(), o)

	e.waitersMu.Lock()
	chans := e.waiters[o.EntryID]
	delete(e.waiters, o.EntryID)
	e.waitersMu.Unlock()
	for _, ch := range chans {
		ch <- o
	}
}
