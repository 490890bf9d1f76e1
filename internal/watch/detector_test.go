package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"slotwatch/internal/visa"
	"slotwatch/pkg/logx"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, statusEvery int) *Detector {
	t.Helper()
	d := NewDetector(NewState(0), nil, statusEvery, logx.Nop())
	d.now = func() time.Time { return testNow }
	return d
}

func slots(dates ...string) []visa.DateSlot {
	out := make([]visa.DateSlot, 0, len(dates))
	for _, d := range dates {
		out = append(out, visa.DateSlot{Date: d, BusinessDay: true})
	}
	return out
}

func TestDetectorTransitions(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 100)
	ctx := context.Background()

	steps := []struct {
		name  string
		dates []visa.DateSlot
		kind  EventKind
	}{
		{name: "empty to empty", dates: nil, kind: EventNoChange},
		{name: "first availability", dates: slots("2027-03-10"), kind: EventNewAvailability},
		{name: "same date", dates: slots("2027-03-10"), kind: EventNoChange},
		{name: "later date only", dates: slots("2027-05-01"), kind: EventNoChange},
		{name: "earlier date", dates: slots("2027-02-01"), kind: EventEarlierAvailability},
		{name: "all gone", dates: nil, kind: EventAvailabilityLost},
		{name: "back again", dates: slots("2027-04-01"), kind: EventNewAvailability},
	}

	for _, st := range steps {
		ev, _ := d.Classify(ctx, st.dates, nil)
		if ev.Kind != st.kind {
			t.Fatalf("%s: Kind = %s, want %s", st.name, ev.Kind, st.kind)
		}
	}
}

func TestDetectorEarlierFillsGain(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 100)
	ctx := context.Background()

	d.Classify(ctx, slots("2027-03-10"), nil)
	ev, _ := d.Classify(ctx, slots("2027-03-01"), nil)

	if ev.Kind != EventEarlierAvailability {
		t.Fatalf("Kind = %s, want %s", ev.Kind, EventEarlierAvailability)
	}
	if ev.Previous != "2027-03-10" || ev.Earliest != "2027-03-01" {
		t.Fatalf("unexpected dates: earliest=%s previous=%s", ev.Earliest, ev.Previous)
	}
	if ev.DaysGained != 9 {
		t.Fatalf("DaysGained = %d, want 9", ev.DaysGained)
	}
}

func TestDetectorSortsObservation(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 100)

	ev, _ := d.Classify(context.Background(), slots("2027-06-01", "2027-01-15", "2027-03-03"), nil)
	if ev.Earliest != "2027-01-15" {
		t.Fatalf("Earliest = %s, want 2027-01-15", ev.Earliest)
	}
}

func TestDetectorUrgencyHorizons(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		daysOut  int
		horizons int
		urgent   bool
	}{
		{name: "well inside both", daysOut: 170, horizons: 2, urgent: true},
		{name: "exactly six months", daysOut: 180, horizons: 1, urgent: true},
		{name: "inside outer only", daysOut: 250, horizons: 1, urgent: true},
		{name: "exactly outer bound", daysOut: 300, horizons: 0, urgent: false},
		{name: "far out", daysOut: 310, horizons: 0, urgent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := newTestDetector(t, 100)
			date := testNow.AddDate(0, 0, tt.daysOut).Format("2006-01-02")

			ev, _ := d.Classify(context.Background(), slots(date), nil)
			if ev.Kind != EventNewAvailability {
				t.Fatalf("Kind = %s, want %s", ev.Kind, EventNewAvailability)
			}
			if len(ev.Horizons) != tt.horizons {
				t.Fatalf("Horizons = %v, want %d entries", ev.Horizons, tt.horizons)
			}
			if ev.Urgent() != tt.urgent {
				t.Fatalf("Urgent() = %v, want %v", ev.Urgent(), tt.urgent)
			}
			if ev.DaysUntil != tt.daysOut {
				t.Fatalf("DaysUntil = %d, want %d", ev.DaysUntil, tt.daysOut)
			}
		})
	}
}

func TestDetectorPeriodicStatus(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 3)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		_, st := d.Classify(ctx, slots("2027-03-10"), nil)
		wantStatus := i%3 == 0
		if (st != nil) != wantStatus {
			t.Fatalf("poll %d: status = %v, want present=%v", i, st, wantStatus)
		}
		if st != nil && st.Poll != i {
			t.Fatalf("status Poll = %d, want %d", st.Poll, i)
		}
	}
}

func TestDetectorTimesEnrichment(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 100)
	ctx := context.Background()

	ev, _ := d.Classify(ctx, slots("2027-03-10"), func(context.Context, string) ([]string, error) {
		return []string{"09:00", "13:30"}, nil
	})
	if len(ev.Times) != 2 {
		t.Fatalf("Times = %v, want 2 entries", ev.Times)
	}
	if ts, ok := d.state.TimesFor("2027-03-10"); !ok || len(ts) != 2 {
		t.Fatalf("state times = %v (ok=%v), want recorded", ts, ok)
	}
}

func TestDetectorTimesFailureKeepsEvent(t *testing.T) {
	t.Parallel()
	d := newTestDetector(t, 100)

	ev, _ := d.Classify(context.Background(), slots("2027-03-10"), func(context.Context, string) ([]string, error) {
		return nil, errors.New("boom")
	})
	if ev.Kind != EventNewAvailability {
		t.Fatalf("Kind = %s, want %s", ev.Kind, EventNewAvailability)
	}
	if ev.Times != nil {
		t.Fatalf("Times = %v, want nil on fetch failure", ev.Times)
	}
}
