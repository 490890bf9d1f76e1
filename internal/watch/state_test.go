package watch

import (
	"testing"
	"time"
)

func TestStateCapEvictsLatest(t *testing.T) {
	t.Parallel()
	s := NewState(3)

	s.AddTimes("2027-03-01", []string{"09:00"})
	s.AddTimes("2027-01-01", []string{"10:00"})
	s.AddTimes("2027-02-01", []string{"11:00"})
	s.AddTimes("2027-04-01", []string{"12:00"}) // over cap; chronologically latest goes

	if _, ok := s.TimesFor("2027-04-01"); ok {
		t.Fatal("latest date should have been evicted")
	}
	for _, d := range []string{"2027-01-01", "2027-02-01", "2027-03-01"} {
		if _, ok := s.TimesFor(d); !ok {
			t.Fatalf("date %s missing after eviction", d)
		}
	}
}

func TestStateAddTimesInsertIfAbsent(t *testing.T) {
	t.Parallel()
	s := NewState(0)

	s.AddTimes("2027-03-01", []string{"09:00"})
	s.AddTimes("2027-03-01", []string{"15:00"})

	ts, ok := s.TimesFor("2027-03-01")
	if !ok || len(ts) != 1 || ts[0] != "09:00" {
		t.Fatalf("times = %v, want original entry preserved", ts)
	}
}

func TestStateSnapshot(t *testing.T) {
	t.Parallel()
	s := NewState(0)
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	s.Record("2027-02-01", at)
	s.AddTimes("2027-03-01", []string{"09:00"})
	s.AddTimes("2027-02-01", nil)

	snap := s.Snapshot()
	if snap.Earliest != "2027-02-01" || !snap.LastCheckedAt.Equal(at) {
		t.Fatalf("snapshot header = %+v", snap)
	}
	if len(snap.Dates) != 2 || snap.Dates[0].Date != "2027-02-01" || snap.Dates[1].Date != "2027-03-01" {
		t.Fatalf("snapshot dates = %+v, want ascending order", snap.Dates)
	}
}
