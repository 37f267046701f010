package board

import (
	"strings"
	"testing"
)

func TestDeriveIDStable(t *testing.T) {
	a := DeriveID("Lyon", "Paris", "Aug 24")
	b := DeriveID("Lyon", "Paris", "Aug 24")
	if a != b {
		t.Fatalf("same inputs gave %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "ld_") {
		t.Fatalf("id = %q, want ld_ prefix", a)
	}
}

func TestDeriveIDFieldBoundaries(t *testing.T) {
	// "Ly" + "onParis" must not collide with "Lyon" + "Paris".
	if DeriveID("Ly", "onParis", "") == DeriveID("Lyon", "Paris", "") {
		t.Fatal("field concatenation is ambiguous")
	}
	if DeriveID("Lyon", "Paris", "Aug 24") == DeriveID("Lyon", "Paris", "Aug 25") {
		t.Fatal("schedule must participate in the identity")
	}
}

func TestEqualIgnoringObservation(t *testing.T) {
	a := Load{ID: "L1", Price: 850, Origin: "Lyon", Destination: "Paris"}
	b := a
	b.IsNew = true
	prev := 800.0
	b.PreviousPrice = &prev
	if !a.EqualIgnoringObservation(b) {
		t.Fatal("differ flags must not affect equality")
	}
	b.Price = 900
	if a.EqualIgnoringObservation(b) {
		t.Fatal("price difference must break equality")
	}
}

func TestCriteriaMergeOverlaysNonZero(t *testing.T) {
	base := DefaultCriteria()
	base.DistanceMax = 600
	base.PriceMin = 400

	got := Criteria{PriceMin: 700}.Merge(base)

	if got.PriceMin != 700 {
		t.Errorf("PriceMin = %v, want overlay 700", got.PriceMin)
	}
	if got.DistanceMax != 600 {
		t.Errorf("DistanceMax = %v, want base 600 preserved", got.DistanceMax)
	}
	if got.Duration != DurationAny {
		t.Errorf("Duration = %q, want base default", got.Duration)
	}
}

func TestCriteriaMergeBooleansFollowOverlay(t *testing.T) {
	base := DefaultCriteria()
	base.AutoBook = true
	base.HideSimilar = true

	got := Criteria{}.Merge(base)

	// Booleans have no unset sentinel: the overlay's value always wins.
	if got.AutoBook || got.HideSimilar {
		t.Fatalf("got %+v, want overlay booleans (false) to win", got)
	}
}

func TestOutcomeString(t *testing.T) {
	ok := Outcome{EntryID: "L1", Success: true}
	if got := ok.String(); got != "booked L1" {
		t.Errorf("String() = %q", got)
	}
	bad := Outcome{EntryID: "L2", Reason: ReasonSurfaceTimeout}
	if got := bad.String(); got != "failed L2: surface-timeout" {
		t.Errorf("String() = %q", got)
	}
}
