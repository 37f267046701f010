package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/dom"
	"github.com/hazyhaar/boardwatch/dom/htmldom"
	"github.com/hazyhaar/boardwatch/store"
)

const boardPage = `<html><body>
<div class="board">
	<div class="load-card" data-load-id="L1">
		<span class="origin">Lyon</span>
		<span class="destination">Paris</span>
		<span class="schedule">Aug 24, 06:00 — Aug 24, 18:00</span>
		<span class="distance">460</span>
		<span class="price">$850</span>
		<span class="stops">1</span>
		<span class="deadhead">30</span>
		<button class="book-button">Book</button>
	</div>
</div>
</body></html>`

const newCard = `<div class="load-card" data-load-id="L2">
	<span class="origin">Nice</span>
	<span class="destination">Marseille</span>
	<span class="schedule">Aug 24, 09:00 — Aug 24, 12:00</span>
	<span class="distance">200</span>
	<span class="price">$300</span>
	<span class="stops">0</span>
	<span class="deadhead">5</span>
	<button class="book-button">Book</button>
</div>`

const dialogHTML = `<div class="booking-dialog">
	<input type="text" name="contact_name">
	<button class="confirm-button">Confirm</button>
</div>`

type chanNotifier struct{ ch chan string }

func (n chanNotifier) Notify(kind string) {
	select {
	case n.ch <- kind:
	default:
	}
}

type rig struct {
	doc *htmldom.Doc
	eng *Engine
	st  *store.Store
	nfy chan string
}

func newRig(t *testing.T, page string) *rig {
	t.Helper()
	st, err := store.OpenMemory(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	doc := htmldom.MustParse(page)
	t.Cleanup(func() { doc.Close() })

	nfy := make(chan string, 64)
	cfg := Config{
		Debounce: 40 * time.Millisecond,
		Booking: BookingConfig{
			PollInterval: 10 * time.Millisecond,
			Deadline:     300 * time.Millisecond,
			SettleDelay:  time.Millisecond,
		},
	}
	eng := New(cfg, doc, st, nil, WithNotifier(chanNotifier{ch: nfy}))
	t.Cleanup(eng.Close)

	return &rig{doc: doc, eng: eng, st: st, nfy: nfy}
}

// scriptBooking makes the document's book controls open a dialog whose
// confirm control closes it — the shortest successful booking path.
func (r *rig) scriptBooking() {
	r.doc.OnClick(func(n dom.Node) {
		switch {
		case strings.Contains(n.Attr("class"), "book-button"):
			_ = r.doc.AppendHTML("body", dialogHTML)
		case strings.Contains(n.Attr("class"), "confirm-button"):
			_ = r.doc.Remove(".booking-dialog")
		}
	})
}

func (r *rig) waitNotify(t *testing.T, kind string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.nfy:
			if got == kind {
				return
			}
		case <-deadline:
			t.Fatalf("notification %q never arrived", kind)
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()

	if !r.eng.Start(ctx, nil) {
		t.Fatal("first Start rejected")
	}
	if r.eng.Start(ctx, nil) {
		t.Fatal("second Start accepted while running")
	}
	if !r.eng.Stop() {
		t.Fatal("Stop rejected while running")
	}
	if r.eng.Stop() {
		t.Fatal("second Stop accepted while stopped")
	}
	if !r.eng.Start(ctx, nil) {
		t.Fatal("restart rejected")
	}
}

func TestStartRunsInitialCycle(t *testing.T) {
	r := newRig(t, boardPage)
	if !r.eng.Start(context.Background(), nil) {
		t.Fatal("Start rejected")
	}

	st := r.eng.Status()
	if !st.Running {
		t.Error("Status.Running = false")
	}
	if st.Cycles < 1 {
		t.Fatalf("Cycles = %d, want at least the initial cycle", st.Cycles)
	}
	r.waitNotify(t, NotifyNewLoad)
}

func TestCheckNowFlagsFirstSightingAsNew(t *testing.T) {
	r := newRig(t, boardPage)

	loads := r.eng.CheckNow(context.Background())
	if len(loads) != 1 {
		t.Fatalf("loads = %d, want 1", len(loads))
	}
	l := loads[0]
	if l.ID != "L1" || !l.IsNew {
		t.Fatalf("load = %+v, want new L1", l)
	}
	if l.Price != 850 || l.Origin != "Lyon" {
		t.Fatalf("load = %+v", l)
	}
}

func TestCheckNowIsIdempotentOnQuietBoard(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()

	r.eng.CheckNow(ctx)
	loads := r.eng.CheckNow(ctx)

	if len(loads) != 1 {
		t.Fatalf("loads = %d, want 1", len(loads))
	}
	if loads[0].IsNew || loads[0].PriceChanged {
		t.Fatalf("unchanged board re-flagged: %+v", loads[0])
	}
}

func TestPriceChangeDetectedAndNotified(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()

	r.eng.CheckNow(ctx)
	if err := r.doc.SetText(".price", "$800"); err != nil {
		t.Fatal(err)
	}
	loads := r.eng.CheckNow(ctx)

	if len(loads) != 1 || !loads[0].PriceChanged {
		t.Fatalf("loads = %+v, want price change on L1", loads)
	}
	if loads[0].PreviousPrice == nil || *loads[0].PreviousPrice != 850 {
		t.Fatalf("PreviousPrice = %v, want 850", loads[0].PreviousPrice)
	}
	r.waitNotify(t, NotifyPriceDrop)
}

func TestMutationTriggersDebouncedCycle(t *testing.T) {
	r := newRig(t, boardPage)
	if !r.eng.Start(context.Background(), nil) {
		t.Fatal("Start rejected")
	}
	before := r.eng.Status().Cycles

	if err := r.doc.AppendHTML(".board", newCard); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for r.eng.Status().Cycles == before {
		if time.Now().After(deadline) {
			t.Fatal("mutation never triggered a cycle")
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.waitNotify(t, NotifyNewLoad)

	loads := r.eng.CheckNow(context.Background())
	if len(loads) != 2 {
		t.Fatalf("loads = %d after append, want 2", len(loads))
	}
}

func TestUpdateCriteriaAppliesNextCycle(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()

	r.eng.CheckNow(ctx)
	r.eng.UpdateCriteria(ctx, board.Criteria{PriceMin: 900})

	// Criteria filter matches, not the raw snapshot: the load stays visible.
	loads := r.eng.CheckNow(ctx)
	if len(loads) != 1 {
		t.Fatalf("loads = %d, want raw snapshot untouched by criteria", len(loads))
	}

	// And the update persisted.
	saved := r.st.LoadCriteria(ctx)
	if saved.PriceMin != 900 {
		t.Fatalf("persisted PriceMin = %v, want 900", saved.PriceMin)
	}
}

func TestBookByEntryID(t *testing.T) {
	r := newRig(t, boardPage)
	r.scriptBooking()
	ctx := context.Background()

	r.eng.CheckNow(ctx)

	o, err := r.eng.Book(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Success {
		t.Fatalf("outcome = %+v, want success", o)
	}
	r.waitNotify(t, NotifyBooked)

	if got := r.eng.Status().Booked; got != 1 {
		t.Fatalf("Status.Booked = %d, want 1", got)
	}
	events, err := r.st.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || !events[0].Success || events[0].EntryID != "L1" {
		t.Fatalf("events = %+v", events)
	}
}

func TestBookingOutlivesCallerContext(t *testing.T) {
	r := newRig(t, boardPage)
	// The success indicator lands well after the caller has gone away,
	// but still inside the executor's deadline.
	r.doc.OnClick(func(n dom.Node) {
		switch {
		case strings.Contains(n.Attr("class"), "book-button"):
			_ = r.doc.AppendHTML("body", dialogHTML)
		case strings.Contains(n.Attr("class"), "confirm-button"):
			go func() {
				time.Sleep(100 * time.Millisecond)
				_ = r.doc.AppendHTML("body", `<div class="booking-success">Booked</div>`)
			}()
		}
	})
	r.eng.CheckNow(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := r.eng.Book(ctx, "L1"); err == nil {
		t.Fatal("Book must return once its context ends")
	}

	// The in-flight booking keeps running to its terminal state.
	deadline := time.Now().Add(3 * time.Second)
	for r.eng.Status().Booked == 0 {
		if r.eng.Status().Failed > 0 {
			t.Fatal("booking failed after the caller's context ended")
		}
		if time.Now().After(deadline) {
			t.Fatal("booking never completed after the caller's context ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBookAbandonedCallerLeavesNoWaiter(t *testing.T) {
	r := newRig(t, boardPage)
	r.eng.CheckNow(context.Background())

	// No click script: the attempt will sit in awaiting-surface far past
	// the caller's patience.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.eng.Book(ctx, "L1"); err == nil {
		t.Fatal("Book must fail when nothing reacts to the trigger")
	}

	r.eng.waitersMu.Lock()
	n := len(r.eng.waiters)
	r.eng.waitersMu.Unlock()
	if n != 0 {
		t.Fatalf("waiters = %d after the caller gave up, want 0", n)
	}
}

func TestBookUnknownEntry(t *testing.T) {
	r := newRig(t, boardPage)
	r.eng.CheckNow(context.Background())

	if _, err := r.eng.Book(context.Background(), "nope"); err != ErrUnknownEntry {
		t.Fatalf("err = %v, want ErrUnknownEntry", err)
	}
}

func TestAutoBookBooksMatchingLoad(t *testing.T) {
	r := newRig(t, boardPage)
	r.scriptBooking()

	if !r.eng.Start(context.Background(), &board.Criteria{AutoBook: true}) {
		t.Fatal("Start rejected")
	}
	r.waitNotify(t, NotifyBooked)

	deadline := time.Now().Add(3 * time.Second)
	for r.eng.Status().Booked == 0 {
		if time.Now().After(deadline) {
			t.Fatal("auto-book never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSweepDropsVanishedQueueEntries(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()

	// Stopped executor: auto-book enqueues pile up instead of draining.
	if !r.eng.Start(ctx, &board.Criteria{AutoBook: true}) {
		t.Fatal("Start rejected")
	}
	r.eng.Stop()

	r.eng.CheckNow(ctx)
	if r.eng.Status().QueueLength == 0 {
		t.Fatal("expected a pending queue entry while stopped")
	}

	if err := r.doc.Remove(".load-card"); err != nil {
		t.Fatal(err)
	}
	r.eng.CheckNow(ctx)

	if got := r.eng.Status().QueueLength; got != 0 {
		t.Fatalf("QueueLength = %d after sweep, want 0", got)
	}
}

func TestStartLoadsPersistedCriteria(t *testing.T) {
	r := newRig(t, boardPage)
	ctx := context.Background()
	r.st.SaveCriteria(ctx, board.Criteria{PriceMin: 1000, Duration: board.DurationAny})

	if !r.eng.Start(ctx, nil) {
		t.Fatal("Start rejected")
	}

	// The 850 load fails the persisted 1000 minimum: no summary match.
	sum := r.st.LoadSummary(ctx)
	if sum == nil {
		t.Fatal("no summary persisted after initial cycle")
	}
	if sum.Matched != 0 {
		t.Fatalf("Matched = %d, want 0 under persisted criteria", sum.Matched)
	}
	if sum.Total != 1 {
		t.Fatalf("Total = %d, want 1", sum.Total)
	}
}
