package watch

import (
	"context"
	"sort"
	"time"

	"slotwatch/internal/visa"
	"slotwatch/pkg/logx"
)

type EventKind string

const (
	EventNoChange            EventKind = "no_change"
	EventNewAvailability     EventKind = "new_availability"
	EventEarlierAvailability EventKind = "earlier_availability"
	EventAvailabilityLost    EventKind = "availability_lost"
)

// Horizon is a day-count threshold that flags especially time-sensitive
// availability. Comparison is strict: a date exactly Days out is not tagged.
type Horizon struct {
	Days  int
	Label string
}

// DefaultHorizons mirrors the configured defaults: roughly six and ten
// months out.
func DefaultHorizons() []Horizon {
	return []Horizon{
		{Days: 180, Label: "within 6 months"},
		{Days: 300, Label: "within 300 days"},
	}
}

// Event is the single classification result of one poll cycle.
type Event struct {
	Kind     EventKind
	Earliest string // current earliest date, "" if none
	Previous string // previous earliest date, "" if none

	// Filled for NewAvailability / EarlierAvailability.
	Times      []string
	DaysUntil  int
	DaysGained int      // Earlier only: days earlier than the previous date
	Horizons   []string // urgency labels, possibly several
}

// Notable reports whether the event should reach subscribers.
func (e Event) Notable() bool { return e.Kind != EventNoChange }

// Urgent reports whether any urgency horizon was crossed.
func (e Event) Urgent() bool { return len(e.Horizons) > 0 }

// Status is the periodic reporting signal emitted every Nth poll regardless
// of change. It routes to the administrative subscriber only.
type Status struct {
	Poll       int
	Earliest   string
	DaysUntil  int
	TimesKnown int
}

// TimesFunc fetches the time slots for a date within the current cycle's
// credentials.
type TimesFunc func(ctx context.Context, date string) ([]string, error)

// Detector compares each fresh observation against the previously observed
// earliest date and classifies the transition. It owns the mutation of the
// shared State.
type Detector struct {
	state       *State
	horizons    []Horizon
	statusEvery int
	log         logx.Logger
	now         func() time.Time

	prev  string
	polls int
}

func NewDetector(state *State, horizons []Horizon, statusEvery int, log logx.Logger) *Detector {
	if len(horizons) == 0 {
		horizons = DefaultHorizons()
	}
	if statusEvery <= 0 {
		statusEvery = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		state:       state,
		horizons:    horizons,
		statusEvery: statusEvery,
		log:         log,
		now:         time.Now,
	}
}

// Polls returns how many observations this detector has classified.
func (d *Detector) Polls() int { return d.polls }

// Classify consumes one observation and emits exactly one event per the
// transition table, plus a periodic status every statusEvery-th poll.
func (d *Detector) Classify(ctx context.Context, dates []visa.DateSlot, times TimesFunc) (Event, *Status) {
	d.polls++
	now := d.now()

	// Upstream ordering is unconfirmed; sort a copy ascending before trusting
	// index 0 as "earliest".
	earliest := ""
	if len(dates) > 0 {
		sorted := append([]visa.DateSlot(nil), dates...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })
		earliest = sorted[0].Date
	}

	d.state.Record(earliest, now)

	ev := Event{Kind: EventNoChange, Earliest: earliest, Previous: d.prev}
	switch {
	case d.prev == "" && earliest != "":
		ev.Kind = EventNewAvailability
	case d.prev != "" && earliest != "" && earliest < d.prev:
		ev.Kind = EventEarlierAvailability
		ev.DaysGained = daysBetween(earliest, d.prev)
	case d.prev != "" && earliest == "":
		ev.Kind = EventAvailabilityLost
	}

	if ev.Kind == EventNewAvailability || ev.Kind == EventEarlierAvailability {
		ev.DaysUntil = daysFromNow(now, earliest)
		ev.Horizons = d.crossedHorizons(now, earliest)

		if times != nil {
			ts, err := times(ctx, earliest)
			if err != nil {
				// Times are enrichment; a failed fetch doesn't change the event.
				d.log.Warn("times fetch failed", logx.String("date", earliest), logx.Err(err))
			} else {
				ev.Times = ts
				d.state.AddTimes(earliest, ts)
			}
		}
	}

	d.prev = earliest

	var st *Status
	if d.polls%d.statusEvery == 0 {
		st = &Status{Poll: d.polls, Earliest: earliest}
		if earliest != "" {
			st.DaysUntil = daysFromNow(now, earliest)
			if ts, ok := d.state.TimesFor(earliest); ok {
				st.TimesKnown = len(ts)
			}
		}
	}

	if ev.Notable() {
		d.log.Info("availability change",
			logx.String("event", string(ev.Kind)),
			logx.String("earliest", ev.Earliest),
			logx.String("previous", ev.Previous),
			logx.Int("poll", d.polls),
		)
	}
	return ev, st
}

// crossedHorizons returns the labels of every horizon the date falls inside
// of. Comparison is on calendar dates, strict <.
func (d *Detector) crossedHorizons(now time.Time, date string) []string {
	days := daysFromNow(now, date)
	var tags []string
	for _, h := range d.horizons {
		if days < h.Days {
			tags = append(tags, h.Label)
		}
	}
	return tags
}

// daysFromNow counts whole calendar days from now's date to the given date.
func daysFromNow(now time.Time, date string) int {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(today).Hours() / 24)
}

// daysBetween counts calendar days from a to b (both "2006-01-02").
func daysBetween(a, b string) int {
	ta, err := time.Parse("2006-01-02", a)
	if err != nil {
		return 0
	}
	tb, err := time.Parse("2006-01-02", b)
	if err != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}
