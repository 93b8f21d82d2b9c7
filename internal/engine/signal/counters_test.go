package signal

import (
	"testing"
	"time"
)

func TestUnixDay(t *testing.T) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := UnixDay(epoch); got != 0 {
		t.Fatalf("UnixDay(epoch) = %d, want 0", got)
	}
	if got := UnixDay(epoch.Add(25 * time.Hour)); got != 1 {
		t.Fatalf("UnixDay(epoch+25h) = %d, want 1", got)
	}
}

func TestRingWindowSums(t *testing.T) {
	day := UnixDay(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	ring := NewRing(day)

	ring.Add(day, CounterSet{PageViews: 1})
	ring.Add(day-5, CounterSet{PageViews: 2})
	ring.Add(day-20, CounterSet{PageViews: 4})
	ring.Add(day-80, CounterSet{PageViews: 8})

	if got := ring.WindowSum(7, day).PageViews; got != 3 {
		t.Fatalf("7d sum = %d, want 3", got)
	}
	if got := ring.WindowSum(30, day).PageViews; got != 7 {
		t.Fatalf("30d sum = %d, want 7", got)
	}
	if got := ring.WindowSum(90, day).PageViews; got != 15 {
		t.Fatalf("90d sum = %d, want 15", got)
	}
}

func TestRingAdvanceZeroesPassedCells(t *testing.T) {
	day := int64(20000)
	ring := NewRing(day)
	ring.Add(day, CounterSet{Clicks: 5})

	// Roll 10 days forward: the old bucket is still inside the 90-day window.
	ring.Advance(day + 10)
	if got := ring.WindowSum(90, day+10).Clicks; got != 5 {
		t.Fatalf("after 10-day roll, 90d sum = %d, want 5", got)
	}
	if got := ring.WindowSum(7, day+10).Clicks; got != 0 {
		t.Fatalf("after 10-day roll, 7d sum = %d, want 0", got)
	}

	// Roll past the whole ring: everything clears.
	ring.Advance(day + 10 + RingDays)
	if got := ring.WindowSum(90, day+10+RingDays).Clicks; got != 0 {
		t.Fatalf("after full roll, 90d sum = %d, want 0", got)
	}
}

func TestRingAdvanceBackwardsIsNoop(t *testing.T) {
	ring := NewRing(100)
	ring.Add(100, CounterSet{Searches: 1})
	ring.Advance(50)
	if ring.HeadDay != 100 {
		t.Fatalf("head moved backwards to %d", ring.HeadDay)
	}
	if got := ring.WindowSum(7, 100).Searches; got != 1 {
		t.Fatalf("backwards advance lost data")
	}
}

func TestRingDropsEventsPastHorizon(t *testing.T) {
	day := int64(20000)
	ring := NewRing(day)
	ring.Add(day-RingDays, CounterSet{PageViews: 1})
	if got := ring.WindowSum(90, day).PageViews; got != 0 {
		t.Fatalf("event past horizon counted: %d", got)
	}
}

func TestRingMarshalRoundTrip(t *testing.T) {
	day := int64(20500)
	ring := NewRing(day)
	ring.Add(day, CounterSet{CartAdds: 3, Revenue: 12.5})
	ring.Add(day-6, CounterSet{Searches: 2})

	raw, err := ring.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := UnmarshalRing(raw, day)
	if err != nil {
		t.Fatalf("UnmarshalRing: %v", err)
	}
	if restored.HeadDay != day {
		t.Fatalf("head day = %d, want %d", restored.HeadDay, day)
	}
	got := restored.WindowSum(7, day)
	if got.CartAdds != 3 || got.Searches != 2 || got.Revenue != 12.5 {
		t.Fatalf("restored 7d sum = %+v", got)
	}
}

func TestUnmarshalRingEmpty(t *testing.T) {
	ring, err := UnmarshalRing(nil, 42)
	if err != nil {
		t.Fatalf("UnmarshalRing(nil): %v", err)
	}
	if ring.HeadDay != 42 || len(ring.Cells) != RingDays {
		t.Fatalf("empty ring = head %d, %d cells", ring.HeadDay, len(ring.Cells))
	}
}

func TestCounterSetIsZero(t *testing.T) {
	var c CounterSet
	if !c.IsZero() {
		t.Fatalf("fresh CounterSet not zero")
	}
	c.Add(CounterSet{Impressions: 1})
	if c.IsZero() {
		t.Fatalf("CounterSet with data reported zero")
	}
}
