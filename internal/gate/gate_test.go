package gate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestInWindowTruthTable(t *testing.T) {
	t.Parallel()

	for start := 0; start < 24; start++ {
		for end := 0; end < 24; end++ {
			for hour := 0; hour < 24; hour++ {
				var want bool
				if start <= end {
					want = hour >= start && hour <= end
				} else {
					want = hour >= start || hour <= end
				}
				if got := InWindow(hour, start, end); got != want {
					t.Fatalf("InWindow(%d, %d, %d)=%v, want %v", hour, start, end, got, want)
				}
			}
		}
	}
}

func TestInWindowWraparound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hour, start, end int
		want             bool
	}{
		{8, 8, 23, true},
		{23, 8, 23, true},
		{7, 8, 23, false},
		{0, 22, 2, true},
		{2, 22, 2, true},
		{3, 22, 2, false},
		{12, 12, 12, true},
		{13, 12, 12, false},
	}
	for _, tc := range cases {
		if got := InWindow(tc.hour, tc.start, tc.end); got != tc.want {
			t.Fatalf("InWindow(%d, %d, %d)=%v, want %v", tc.hour, tc.start, tc.end, got, tc.want)
		}
	}
}

func TestThrottle(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(2 * time.Hour)

	if !th.Allow("g1", now) {
		t.Fatalf("expected first send allowed")
	}
	th.Mark("g1", now)
	if th.Allow("g1", now.Add(time.Hour)) {
		t.Fatalf("expected send within interval to be throttled")
	}
	if !th.Allow("g1", now.Add(2*time.Hour)) {
		t.Fatalf("expected send at interval boundary to be allowed")
	}
	if !th.Allow("g2", now) {
		t.Fatalf("throttle leaked across chats")
	}
	if last, ok := th.Last("g1"); !ok || !last.Equal(now) {
		t.Fatalf("Last(g1)=%v,%v", last, ok)
	}
}

func TestThrottleZeroIntervalAlwaysAllows(t *testing.T) {
	t.Parallel()

	now := time.Now()
	th := NewThrottle(0)
	th.Mark("g", now)
	if !th.Allow("g", now) {
		t.Fatalf("zero interval should not throttle")
	}
}

func TestDailyScheduleDue(t *testing.T) {
	t.Parallel()

	s := NewDailySchedule([]string{"bogus", "09:00", "20:00"}, nil)
	if diff := cmp.Diff([]string{"09:00", "20:00"}, s.Slots()); diff != "" {
		t.Fatalf("slots mismatch:\n%s", diff)
	}

	at := func(h, m int) time.Time { return time.Date(2024, 5, 1, h, m, 0, 0, time.Local) }

	if _, ok := s.Due(at(8, 54)); ok {
		t.Fatalf("08:54 should be outside tolerance")
	}
	slot, ok := s.Due(at(8, 55))
	if !ok || slot != "09:00" {
		t.Fatalf("Due(08:55)=%q,%v, want 09:00,true", slot, ok)
	}
	s.MarkFired(at(8, 55))

	if _, ok := s.Due(at(8, 59)); ok {
		t.Fatalf("repeat within 5 minutes of last fire should be suppressed")
	}
	if slot, ok := s.Due(at(9, 0)); !ok || slot != "09:00" {
		t.Fatalf("Due(09:00)=%q,%v; five minutes after fire should be allowed", slot, ok)
	}
	if slot, ok := s.Due(at(20, 5)); !ok || slot != "20:00" {
		t.Fatalf("Due(20:05)=%q,%v", slot, ok)
	}
}
