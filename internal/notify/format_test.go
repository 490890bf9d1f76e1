package notify

import (
	"strings"
	"testing"

	"slotwatch/internal/watch"
)

func TestRenderEventNewAvailability(t *testing.T) {
	t.Parallel()
	ev := watch.Event{
		Kind:      watch.EventNewAvailability,
		Earliest:  "2027-02-01",
		DaysUntil: 153,
		Times:     []string{"09:00", "13:30"},
		Horizons:  []string{"within 6 months"},
	}

	got := RenderEvent(ev)
	for _, want := range []string{"2027-02-01", "153 days", "within 6 months", "2 time slot"} {
		if !strings.Contains(got, want) {
			t.Fatalf("rendered event missing %q:\n%s", want, got)
		}
	}
}

func TestRenderEventLost(t *testing.T) {
	t.Parallel()
	got := RenderEvent(watch.Event{Kind: watch.EventAvailabilityLost, Previous: "2027-02-01"})
	if !strings.Contains(got, "2027-02-01") || !strings.Contains(got, "no longer available") {
		t.Fatalf("unexpected lost rendering:\n%s", got)
	}
}

func TestRenderEventNoChangeEmpty(t *testing.T) {
	t.Parallel()
	if got := RenderEvent(watch.Event{Kind: watch.EventNoChange}); got != "" {
		t.Fatalf("no-change rendering = %q, want empty", got)
	}
}

func TestEventKeyDistinguishesTransitions(t *testing.T) {
	t.Parallel()
	a := eventKey(watch.Event{Kind: watch.EventNewAvailability, Earliest: "2027-02-01"})
	b := eventKey(watch.Event{Kind: watch.EventEarlierAvailability, Earliest: "2027-02-01", Previous: "2027-03-01"})
	c := eventKey(watch.Event{Kind: watch.EventNewAvailability, Earliest: "2027-02-02"})

	if a == b || a == c || b == c {
		t.Fatalf("keys not distinct: %q %q %q", a, b, c)
	}
}
