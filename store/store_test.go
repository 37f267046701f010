package store

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/boardwatch/board"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(nil)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCriteriaRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	want := board.Criteria{
		DistanceMax: 600,
		PriceMin:    500,
		Duration:    board.DurationSameDay,
		AutoBook:    true,
	}
	s.SaveCriteria(ctx, want)

	got := s.LoadCriteria(ctx)
	if got.DistanceMax != 600 || got.PriceMin != 500 {
		t.Fatalf("got %+v", got)
	}
	if got.Duration != board.DurationSameDay {
		t.Errorf("Duration = %q", got.Duration)
	}
	if !got.AutoBook {
		t.Error("AutoBook lost")
	}
}

func TestLoadCriteriaDefaultsWhenEmpty(t *testing.T) {
	s := openTest(t)
	got := s.LoadCriteria(context.Background())
	if got.Duration != board.DurationAny {
		t.Fatalf("got %+v, want defaults", got)
	}
	if got.AutoBook {
		t.Fatal("defaults must not auto-book")
	}
}

func TestLoadCriteriaPartialRecordMergesDefaults(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	// A record written by an older version: only one key present.
	if err := s.save(ctx, keyCriteria, map[string]any{"price_min": 300}); err != nil {
		t.Fatal(err)
	}

	got := s.LoadCriteria(ctx)
	if got.PriceMin != 300 {
		t.Fatalf("PriceMin = %v, want 300", got.PriceMin)
	}
	if got.Duration != board.DurationAny {
		t.Fatalf("Duration = %q, want default filled in", got.Duration)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if s.LoadSummary(ctx) != nil {
		t.Fatal("summary present before any save")
	}

	s.SaveSummary(ctx, board.SnapshotSummary{Total: 12, New: 3, Matched: 5, CycleID: "cyc_x"})
	got := s.LoadSummary(ctx)
	if got == nil {
		t.Fatal("summary missing after save")
	}
	if got.Total != 12 || got.New != 3 || got.Matched != 5 || got.CycleID != "cyc_x" {
		t.Fatalf("got %+v", got)
	}
}

func TestOutcomeLogAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	s.LogOutcome(ctx, board.Outcome{
		EntryID: "L1",
		Load:    board.Load{Origin: "Lyon", Destination: "Paris", Price: 850},
		Success: true,
		At:      base,
	})
	s.LogOutcome(ctx, board.Outcome{
		EntryID: "L2",
		Load:    board.Load{Origin: "Nice", Destination: "Marseille", Price: 300},
		Success: false,
		Reason:  board.ReasonSurfaceTimeout,
		At:      base.Add(30 * time.Second),
	})

	got, err := s.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].EntryID != "L2" || got[1].EntryID != "L1" {
		t.Fatalf("order = %s, %s", got[0].EntryID, got[1].EntryID)
	}
	if got[0].Success || got[0].Reason != board.ReasonSurfaceTimeout {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if !got[1].Success || got[1].Load.Price != 850 {
		t.Fatalf("got[1] = %+v", got[1])
	}
}

func TestRecentOutcomesLimit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.LogOutcome(ctx, board.Outcome{EntryID: "L", Success: true, At: time.Now()})
	}
	got, err := s.RecentOutcomes(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("outcomes = %d, want limit 3", len(got))
	}
}
