package queue

import (
	"testing"

	"github.com/hazyhaar/boardwatch/board"
)

func ids(t *testing.T, q *Q) []string {
	t.Helper()
	var out []string
	for {
		e, ok := q.DequeueNext()
		if !ok {
			return out
		}
		out = append(out, e.LoadID)
	}
}

func TestEnqueueDedup(t *testing.T) {
	q := New()
	q.Enqueue(board.Load{ID: "A", Price: 500}, 500)
	q.Enqueue(board.Load{ID: "A", Price: 520}, 520)

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (same id must never appear twice)", q.Len())
	}
	e, ok := q.Get("A")
	if !ok {
		t.Fatal("entry A missing")
	}
	if e.Load.Price != 520 {
		t.Fatalf("price = %v, want replaced value 520", e.Load.Price)
	}
}

func TestEnqueueNewJumpsQueue(t *testing.T) {
	q := New()
	q.Enqueue(board.Load{ID: "A"}, 500)
	q.Enqueue(board.Load{ID: "B"}, 400)
	q.Enqueue(board.Load{ID: "C", IsNew: true}, 100)

	got := ids(t, q)
	if len(got) != 3 || got[0] != "C" {
		t.Fatalf("order = %v, want C first", got)
	}
}

func TestEnqueueChangedExistingMovesToFront(t *testing.T) {
	q := New()
	q.Enqueue(board.Load{ID: "A"}, 500)
	q.Enqueue(board.Load{ID: "B"}, 400)
	q.Enqueue(board.Load{ID: "B", PriceChanged: true}, 450)

	got := ids(t, q)
	if len(got) != 2 || got[0] != "B" {
		t.Fatalf("order = %v, want B first after price change", got)
	}
}

// Two loads arrive in the same cycle: A (600, unchanged) and B (800, new).
// B must be attempted first.
func TestEnqueueAllOrdering(t *testing.T) {
	q := New()
	q.EnqueueAll([]board.Load{
		{ID: "A", Price: 600},
		{ID: "B", Price: 800, IsNew: true},
	})

	got := ids(t, q)
	want := []string{"B", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEnqueueAllNonNewPriceDescending(t *testing.T) {
	q := New()
	q.EnqueueAll([]board.Load{
		{ID: "A", Price: 100},
		{ID: "B", Price: 200},
	})

	got := ids(t, q)
	want := []string{"B", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEnqueueAllPriceDescendingWithinClass(t *testing.T) {
	q := New()
	q.EnqueueAll([]board.Load{
		{ID: "low", Price: 300, IsNew: true},
		{ID: "high", Price: 900, IsNew: true},
		{ID: "mid", Price: 600, IsNew: true},
	})

	got := ids(t, q)
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := New()
	if _, ok := q.DequeueNext(); ok {
		t.Fatal("DequeueNext on empty queue returned ok")
	}
}

func TestSweepDropsVanished(t *testing.T) {
	q := New()
	q.Enqueue(board.Load{ID: "A"}, 1)
	q.Enqueue(board.Load{ID: "B"}, 2)
	q.Enqueue(board.Load{ID: "C"}, 3)

	dropped := q.Sweep(map[string]bool{"A": true, "C": true})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if _, ok := q.Get("B"); ok {
		t.Fatal("swept entry B still present")
	}

	got := ids(t, q)
	want := []string{"A", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v (sweep must preserve order)", got, want)
		}
	}
}

func TestClear(t *testing.T) {
	q := New()
	q.Enqueue(board.Load{ID: "A"}, 1)
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len = %d after Clear, want 0", q.Len())
	}
	q.Enqueue(board.Load{ID: "A"}, 1)
	if q.Len() != 1 {
		t.Fatal("queue unusable after Clear")
	}
}
