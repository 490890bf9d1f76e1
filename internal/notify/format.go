package notify

import (
	"fmt"
	"strings"
	"time"

	"slotwatch/internal/watch"
)

type sequencePart struct {
	text  string
	pause time.Duration
}

// urgentSequence wraps the rendered message in attention-grabbing
// sub-messages. Pauses keep the burst readable on the receiving side.
func urgentSequence(text string) []sequencePart {
	return []sequencePart{
		{text: "🚨🚨🚨 URGENT 🚨🚨🚨"},
		{text: text, pause: 600 * time.Millisecond},
		{text: "⚡ Act fast — early slots disappear within minutes!", pause: 1200 * time.Millisecond},
	}
}

// eventKey identifies an event for cooldown dedup: kind plus the date pair
// it reports on.
func eventKey(ev watch.Event) string {
	return string(ev.Kind) + ":" + ev.Earliest + ":" + ev.Previous
}

// RenderEvent produces the subscriber-facing text for a notable event.
// NoChange events render to an empty string.
func RenderEvent(ev watch.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case watch.EventNewAvailability:
		b.WriteString("🔔 Appointments are available!\n\n")
		fmt.Fprintf(&b, "📅 Earliest date: %s (%d days from now)\n", ev.Earliest, ev.DaysUntil)
	case watch.EventEarlierAvailability:
		b.WriteString("🔔 An earlier appointment opened up!\n\n")
		fmt.Fprintf(&b, "📅 Earliest date: %s (%d days from now)\n", ev.Earliest, ev.DaysUntil)
		fmt.Fprintf(&b, "📆 Previously: %s — %d days sooner\n", ev.Previous, ev.DaysGained)
	case watch.EventAvailabilityLost:
		b.WriteString("😔 Appointments are no longer available.\n\n")
		fmt.Fprintf(&b, "The previously seen date %s is gone. Checks continue as usual.", ev.Previous)
		return b.String()
	default:
		return ""
	}

	for _, label := range ev.Horizons {
		fmt.Fprintf(&b, "⏰ %s\n", label)
	}
	if n := len(ev.Times); n > 0 {
		fmt.Fprintf(&b, "🕐 %d time slot(s): %s\n", n, strings.Join(ev.Times, ", "))
	}
	b.WriteString("\nOpen the scheduling site to book before the slot is taken.")
	return b.String()
}

// RenderStatus produces the periodic admin report.
func RenderStatus(st watch.Status) string {
	if st.Earliest == "" {
		return fmt.Sprintf("ℹ️ Check #%d: no appointments available.", st.Poll)
	}
	s := fmt.Sprintf("ℹ️ Check #%d: earliest date %s (%d days from now)", st.Poll, st.Earliest, st.DaysUntil)
	if st.TimesKnown > 0 {
		s += fmt.Sprintf(", %d known time slot(s)", st.TimesKnown)
	}
	return s + "."
}

// RenderSnapshot produces the on-demand state listing for command handlers.
func RenderSnapshot(snap watch.Snapshot) string {
	var b strings.Builder
	if snap.Earliest == "" {
		b.WriteString("No appointments available at the last check.")
	} else {
		fmt.Fprintf(&b, "📅 Earliest known date: %s", snap.Earliest)
	}
	if !snap.LastCheckedAt.IsZero() {
		fmt.Fprintf(&b, "\n🕓 Last checked: %s", snap.LastCheckedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if len(snap.Dates) > 0 {
		b.WriteString("\n\nKnown dates:")
		for _, dt := range snap.Dates {
			if len(dt.Times) > 0 {
				fmt.Fprintf(&b, "\n• %s — %s", dt.Date, strings.Join(dt.Times, ", "))
			} else {
				fmt.Fprintf(&b, "\n• %s", dt.Date)
			}
		}
	}
	return b.String()
}
