// Package book drains the booking queue one load at a time through the
// locate → trigger → await → fill → submit → confirm sequence.
//
// The executor is single-flight: at most one execution is in a non-idle
// phase at any moment, guarded by an atomic busy flag. A failed load is
// never retried by the executor itself — if it still matches on a later
// cycle, the monitor re-enqueues it.
package book

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/dom"
	"github.com/hazyhaar/boardwatch/poll"
	"github.com/hazyhaar/boardwatch/queue"
)

// Phase is the executor's position in the booking sequence.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseLocating             Phase = "locating"
	PhaseTriggering           Phase = "triggering"
	PhaseAwaitingSurface      Phase = "awaiting-surface"
	PhaseFilling              Phase = "filling"
	PhaseSubmitting           Phase = "submitting"
	PhaseAwaitingConfirmation Phase = "awaiting-confirmation"
)

// Conventions name the controls the executor needs to find.
type Conventions struct {
	// BookControl is the primary action inside (or near) a load item.
	BookControl dom.Convention `yaml:"book_control"`
	// Surface is the secondary interactive region (confirmation dialog)
	// that appears after triggering.
	Surface dom.Convention `yaml:"surface"`
	// TextFields are fillable inputs on the surface.
	TextFields dom.Convention `yaml:"text_fields"`
	// Agreements are consent toggles on the surface.
	Agreements dom.Convention `yaml:"agreements"`
	// Confirm is the surface's submission control.
	Confirm dom.Convention `yaml:"confirm"`
	// Success is an explicit success indicator shown after submission.
	Success dom.Convention `yaml:"success"`
}

// DefaultConventions returns the generic board conventions.
func DefaultConventions() Conventions {
	return Conventions{
		BookControl: dom.Convention{".book-button", "[data-action=book]", "button.book"},
		Surface:     dom.Convention{".booking-dialog", "[role=dialog]", ".confirm-modal"},
		TextFields:  dom.Convention{"input[type=text]", "input[type=tel]", "textarea"},
		Agreements:  dom.Convention{"input[type=checkbox]"},
		Confirm:     dom.Convention{".confirm-button", "[data-action=confirm]", "button.confirm"},
		Success:     dom.Convention{".booking-success", "[data-result=success]"},
	}
}

// FillDefaults are used to complete surface fields not already populated.
type FillDefaults struct {
	ContactName      string `yaml:"contact_name"`
	ContactPhone     string `yaml:"contact_phone"`
	AcceptAgreements bool   `yaml:"accept_agreements"`
}

// Config tunes the executor.
type Config struct {
	Conventions Conventions
	Fill        FillDefaults

	// PollInterval is the re-check interval of the bounded waits. Default: 100ms.
	PollInterval time.Duration
	// Deadline bounds each wait (surface, confirmation). Default: 5s.
	Deadline time.Duration
	// SettleDelay is the pause before each simulated click. Default: 50ms.
	SettleDelay time.Duration

	Logger *slog.Logger

	// OnOutcome receives every terminal outcome. Called from the executor
	// goroutine; must not block.
	OnOutcome func(board.Outcome)
}

func (c *Config) defaults() {
	if c.Conventions.BookControl == nil {
		c.Conventions = DefaultConventions()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Deadline <= 0 {
		c.Deadline = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 50 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// execState is the bookkeeping for one in-flight booking. Created on
// dequeue, destroyed when a terminal phase is reached.
type execState struct {
	entryID  string
	phase    Phase
	attempts int
	deadline time.Time
}

// Executor drains the queue against a document source.
type Executor struct {
	src dom.Source
	q   *queue.Q
	cfg Config

	busy    atomic.Bool
	stopped atomic.Bool
	phase   atomic.Value // Phase
}

// New creates an Executor over the given source and queue.
func New(src dom.Source, q *queue.Q, cfg Config) *Executor {
	cfg.defaults()
	e := &Executor{src: src, q: q, cfg: cfg}
	e.phase.Store(PhaseIdle)
	return e
}

// Phase returns the current phase for status reporting.
func (e *Executor) Phase() Phase {
	return e.phase.Load().(Phase)
}

// Stop prevents further dequeues. An in-flight booking runs to its
// terminal state.
func (e *Executor) Stop() { e.stopped.Store(true) }

// Resume re-enables dequeues after a Stop.
func (e *Executor) Resume() { e.stopped.Store(false) }

// Kick starts draining the queue if the executor is idle. Safe to call
// from any goroutine; redundant kicks are no-ops.
//
// The drain detaches from the caller's cancellation: a finished request or
// an engine stop must not abort a mid-flight booking, which always runs to
// a terminal state. Stop gates further dequeues instead.
func (e *Executor) Kick(ctx context.Context) {
	if e.stopped.Load() {
		return
	}
	if !e.busy.CompareAndSwap(false, true) {
		return
	}
	go e.drain(context.WithoutCancel(ctx))
}

func (e *Executor) drain(ctx context.Context) {
	defer func() {
		e.phase.Store(PhaseIdle)
		e.busy.Store(false)
		// An enqueue may have raced with the drain winding down; one more
		// kick closes the gap.
		if e.q.Len() > 0 && !e.stopped.Load() {
			e.Kick(ctx)
		}
	}()

	for {
		if e.stopped.Load() {
			return
		}
		entry, ok := e.q.DequeueNext()
		if !ok {
			return
		}
		outcome := e.runOne(ctx, entry)
		e.phase.Store(PhaseIdle)
		if e.cfg.OnOutcome != nil {
			e.cfg.OnOutcome(outcome)
		}
	}
}

// runOne executes the full booking sequence for one entry.
func (e *Executor) runOne(ctx context.Context, entry queue.Entry) board.Outcome {
	log := e.cfg.Logger
	st := &execState{
		entryID:  entry.LoadID,
		phase:    PhaseLocating,
		attempts: 1,
		deadline: time.Now().Add(e.cfg.Deadline),
	}

	fail := func(reason board.FailReason) board.Outcome {
		log.Warn("book: failed", "entry", st.entryID, "phase", st.phase, "reason", reason)
		return board.Outcome{EntryID: st.entryID, Load: entry.Load, Success: false, Reason: reason, At: time.Now()}
	}

	// Locating: the load's element must still be attached and must expose
	// its own book control. Never widen the search beyond the entry —
	// clicking a neighbouring load's control would book the wrong entry.
	// A missing control means the opportunity is stale: drop, never retry.
	e.setPhase(st, PhaseLocating)
	ref := entry.Load.SourceRef
	if ref == nil || !ref.Attached() {
		return fail(board.ReasonControlNotFound)
	}
	control := firstOf(ref.QueryAll(e.cfg.Conventions.BookControl))
	if control == nil || !control.Attached() {
		return fail(board.ReasonControlNotFound)
	}

	// Triggering: a simulated click succeeds synchronously; a swallowed
	// click is indistinguishable from a surface timeout, so errors here
	// are logged and the wait decides.
	e.setPhase(st, PhaseTriggering)
	e.settle(ctx)
	if err := control.Click(ctx); err != nil {
		log.Debug("book: trigger click error", "entry", st.entryID, "error", err)
	}

	// AwaitingSurface.
	e.setPhase(st, PhaseAwaitingSurface)
	switch poll.Until(ctx, e.cfg.PollInterval, e.cfg.Deadline, func() bool {
		return len(e.src.QueryAll(e.cfg.Conventions.Surface)) > 0
	}) {
	case poll.Timeout:
		return fail(board.ReasonSurfaceTimeout)
	case poll.Cancelled:
		return fail(board.ReasonStopped)
	}
	surface := firstOf(e.src.QueryAll(e.cfg.Conventions.Surface))

	// Filling: best-effort, never blocks. Absence of a fillable field is
	// not an error.
	e.setPhase(st, PhaseFilling)
	e.fillSurface(ctx, surface)

	// Submitting.
	e.setPhase(st, PhaseSubmitting)
	confirm := firstOf(surface.QueryAll(e.cfg.Conventions.Confirm))
	if confirm == nil {
		return fail(board.ReasonConfirmControlNotFound)
	}
	e.settle(ctx)
	if err := confirm.Click(ctx); err != nil {
		log.Debug("book: confirm click error", "entry", st.entryID, "error", err)
	}

	// AwaitingConfirmation: an explicit success indicator, or the surface
	// disappearing, counts as success. Disappearance is ambiguous — a
	// closed dialog could also be a silent failure — but the board gives
	// no stronger signal, so the implicit reading is kept as-is.
	e.setPhase(st, PhaseAwaitingConfirmation)
	switch poll.Until(ctx, e.cfg.PollInterval, e.cfg.Deadline, func() bool {
		if len(e.src.QueryAll(e.cfg.Conventions.Success)) > 0 {
			return true
		}
		return len(e.src.QueryAll(e.cfg.Conventions.Surface)) == 0
	}) {
	case poll.Timeout:
		// The booking may have landed server-side; reported conservatively.
		return fail(board.ReasonConfirmationTimeout)
	case poll.Cancelled:
		return fail(board.ReasonStopped)
	}

	log.Info("book: booked", "entry", st.entryID,
		"origin", entry.Load.Origin, "destination", entry.Load.Destination,
		"price", entry.Load.Price)
	return board.Outcome{EntryID: st.entryID, Load: entry.Load, Success: true, At: time.Now()}
}

func (e *Executor) fillSurface(ctx context.Context, surface dom.Node) {
	if surface == nil {
		return
	}
	for _, field := range surface.QueryAll(e.cfg.Conventions.TextFields) {
		if field.Attr("value") != "" {
			continue
		}
		value := e.defaultFor(field)
		if value == "" {
			continue
		}
		if err := field.Fill(ctx, value); err != nil {
			e.cfg.Logger.Debug("book: fill failed", "field", field.Attr("name"), "error", err)
		}
	}
	if e.cfg.Fill.AcceptAgreements {
		for _, box := range surface.QueryAll(e.cfg.Conventions.Agreements) {
			if err := box.SetChecked(ctx, true); err != nil {
				e.cfg.Logger.Debug("book: agreement toggle failed", "error", err)
			}
		}
	}
}

// defaultFor picks a fill value from the field's name/type hints.
func (e *Executor) defaultFor(field dom.Node) string {
	hint := strings.ToLower(field.Attr("name") + " " + field.Attr("id") + " " + field.Attr("type"))
	switch {
	case strings.Contains(hint, "phone") || strings.Contains(hint, "tel"):
		return e.cfg.Fill.ContactPhone
	case strings.Contains(hint, "name") || strings.Contains(hint, "contact"):
		return e.cfg.Fill.ContactName
	}
	return ""
}

func (e *Executor) setPhase(st *execState, p Phase) {
	st.phase = p
	e.phase.Store(p)
}

// settle pauses briefly before a simulated click so the page's own
// handlers finish reacting to the previous step.
func (e *Executor) settle(ctx context.Context) {
	t := time.NewTimer(e.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func firstOf(nodes []dom.Node) dom.Node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}
