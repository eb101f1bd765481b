package visor

import (
	"fmt"
	"testing"
)

func TestConnectionTrackerRefresh(t *testing.T) {
	rec := &recorder{}
	tr := NewConnectionTracker(DefaultStaleAfter, 0, rec)

	first := event("10.0.0.5", 5000, "93.184.216.34", 443)
	first.Type = ConnLocalPublic
	first.DstCountryCode = "US"
	if !tr.Observe(first, at(0)) {
		t.Fatal("Expected first observation to create a record")
	}

	second := first
	second.Type = ConnPublicPublic
	second.DstCountryCode = "DE"
	if tr.Observe(second, at(3)) {
		t.Fatal("Expected second observation to refresh, not create")
	}

	if tr.Len() != 1 {
		t.Fatalf("Expected exactly 1 record, got %d", tr.Len())
	}
	got, ok := tr.Get(KeyOf(first))
	if !ok {
		t.Fatal("Record missing")
	}
	if got.Row.Type != ConnPublicPublic || got.Row.DstCountryCode != "DE" {
		t.Errorf("Expected fields from the latest event, got %+v", got.Row)
	}
	if got.Row.Color != ColorDefault {
		t.Errorf("Expected color to follow the latest type, got %v", got.Row.Color)
	}
	if !got.LastSeen.Equal(at(3)) {
		t.Errorf("Expected last seen %v, got %v", at(3), got.LastSeen)
	}
	if n := rec.count("upsert-row"); n != 2 {
		t.Errorf("Expected 2 upsert signals, got %d", n)
	}
}

func TestConnectionTrackerSweep(t *testing.T) {
	tests := []struct {
		name    string
		elapsed int
		present bool
	}{
		{"fresh", 10, true},
		{"exactly at window", 30, true},
		{"just past window", 31, false},
		{"long gone", 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tr := NewConnectionTracker(DefaultStaleAfter, 0, rec)
			ev := event("1.1.1.1", 1111, "2.2.2.2", 2222)
			tr.Observe(ev, at(0))

			removed := tr.Sweep(at(tt.elapsed))
			_, ok := tr.Get(KeyOf(ev))
			if ok != tt.present {
				t.Errorf("After %ds present = %v; want %v", tt.elapsed, ok, tt.present)
			}
			if tt.present && len(removed) != 0 {
				t.Errorf("Expected nothing removed, got %v", removed)
			}
			if !tt.present && rec.count("remove-row") != 1 {
				t.Errorf("Expected one remove-row signal, got %d", rec.count("remove-row"))
			}
		})
	}
}

func TestConnectionTrackerRefreshExtendsLife(t *testing.T) {
	tr := NewConnectionTracker(DefaultStaleAfter, 0, nil)
	ev := event("1.1.1.1", 1, "2.2.2.2", 2)
	tr.Observe(ev, at(0))
	tr.Observe(ev, at(25))
	tr.Sweep(at(50))
	if tr.Len() != 1 {
		t.Fatalf("Expected refreshed record to survive, have %d", tr.Len())
	}
}

func TestConnectionTrackerBounded(t *testing.T) {
	rec := &recorder{}
	tr := NewConnectionTracker(DefaultStaleAfter, 50, rec)
	for i := 0; i < 50; i++ {
		tr.Observe(event("10.0.0.1", 1000+i, "8.8.8.8", 53), at(i))
	}
	// Refreshing the oldest must not move it in insertion order.
	tr.Observe(event("10.0.0.1", 1000, "8.8.8.8", 53), at(60))
	if tr.Len() != 50 {
		t.Fatalf("Expected 50 rows, got %d", tr.Len())
	}

	tr.Observe(event("10.0.0.1", 2000, "8.8.8.8", 53), at(61))
	if tr.Len() != 50 {
		t.Fatalf("Expected cap of 50 rows, got %d", tr.Len())
	}
	if _, ok := tr.Get(KeyOf(event("10.0.0.1", 1000, "8.8.8.8", 53))); ok {
		t.Error("Expected the oldest row by insertion order to be evicted")
	}
	if _, ok := tr.Get(KeyOf(event("10.0.0.1", 1001, "8.8.8.8", 53))); !ok {
		t.Error("Expected the second oldest row to survive")
	}
	recs := tr.Records()
	if recs[len(recs)-1].Key.SrcPort != "2000" {
		t.Errorf("Expected the newest row last, got %s", recs[len(recs)-1].Key)
	}
	if n := rec.count("remove-row"); n != 1 {
		t.Errorf("Expected 1 remove-row, got %d", n)
	}
}

func TestConnectionTrackerDropsAddressless(t *testing.T) {
	tr := NewConnectionTracker(DefaultStaleAfter, 0, nil)
	tr.Observe(Event{Dst: "1.1.1.1"}, at(0))
	tr.Observe(Event{Src: "1.1.1.1"}, at(0))
	if tr.Len() != 0 {
		t.Errorf("Expected events without addresses to be dropped, have %d", tr.Len())
	}

	// No ports is still a valid key.
	tr.Observe(Event{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "ICMP"}, at(0))
	if tr.Len() != 1 {
		t.Errorf("Expected portless event to be recorded")
	}
}

func TestConnKeyString(t *testing.T) {
	k := KeyOf(event("1.1.1.1", 1111, "2.2.2.2", 2222))
	if got, want := k.String(), "1.1.1.1:1111->2.2.2.2:2222:TCP"; got != want {
		t.Errorf("Key = %s; want %s", got, want)
	}
	portless := KeyOf(Event{Src: "a", Dst: "b", Proto: "1"})
	if got := fmt.Sprint(portless); got != "a:->b::1" {
		t.Errorf("Portless key = %s", got)
	}
}
