package filter

import "testing"

func TestFirstClock(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Aug 24, 06:15 — Aug 24, 18:00", "06:15", true},
		{"pickup at 9:05", "9:05", true},
		{"no time here", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := firstClock(tc.in)
		if ok != tc.ok {
			t.Errorf("firstClock(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got.Format("15:04") != normaliseClock(tc.want) {
			t.Errorf("firstClock(%q) = %s, want %s", tc.in, got.Format("15:04"), tc.want)
		}
	}
}

func normaliseClock(s string) string {
	if len(s) == 4 { // "9:05" → "09:05"
		return "0" + s
	}
	return s
}

func TestScheduleSpanSeparators(t *testing.T) {
	for _, sched := range []string{
		"Aug 24, 06:00 — Aug 26, 18:00",
		"Aug 24, 06:00 – Aug 26, 18:00",
		"Aug 24, 06:00 → Aug 26, 18:00",
		"Aug 24, 06:00 to Aug 26, 18:00",
		"Aug 24 - Aug 26",
	} {
		start, end, ok := scheduleSpan(sched)
		if !ok {
			t.Errorf("scheduleSpan(%q) failed", sched)
			continue
		}
		if days := daysBetween(start, end); days != 2 {
			t.Errorf("scheduleSpan(%q): days = %d, want 2", sched, days)
		}
	}
}

func TestScheduleSpanIsoDatesNotSplitOnHyphen(t *testing.T) {
	// A plain "-" must not split "2026-08-24".
	start, end, ok := scheduleSpan("2026-08-24 — 2026-08-25")
	if !ok {
		t.Fatal("ISO date pair with em-dash must parse")
	}
	if days := daysBetween(start, end); days != 1 {
		t.Fatalf("days = %d, want 1", days)
	}
	if _, _, ok := scheduleSpan("2026-08-24"); ok {
		t.Fatal("a single ISO date must not parse as a span")
	}
}

func TestDaysBetweenCountsBoundaries(t *testing.T) {
	// 23:00 to 01:00 next day crosses one boundary despite the 2h span.
	start, _ := parseDate("Aug 24, 23:00")
	end, _ := parseDate("Aug 25, 01:00")
	if days := daysBetween(start, end); days != 1 {
		t.Fatalf("days = %d, want 1", days)
	}
}
