// Package notify fans rendered messages out to subscribers with
// per-subscriber failure isolation, rate limiting and cooldown dedup.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"slotwatch/internal/registry"
	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

type Config struct {
	RatePerSec      int           // token bucket for outbound sends
	Cooldown        time.Duration // identical event keys within this window are suppressed
	DedupMaxEntries int
}

// Result summarizes one broadcast call.
type Result struct {
	Sent    int
	Failed  int
	Deduped bool
}

// Dispatcher implements the poll scheduler's Notifier. Delivery is
// at-most-once per broadcast per subscriber; a failed send never aborts
// delivery to the remaining subscribers.
type Dispatcher struct {
	cfg    Config
	sender transport.Sender
	reg    *registry.Registry
	admin  transport.ChatTarget // ChatID 0 when no admin is configured
	log    logx.Logger

	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	mu    sync.Mutex
	seen  map[string]time.Time
	store storage.Store // nil disables dedup persistence
}

func New(cfg Config, sender transport.Sender, reg *registry.Registry, admin transport.ChatTarget, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		reg:     reg,
		admin:   admin,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sleep:   sleepCtx,
		now:     time.Now,
		seen:    map[string]time.Time{},
	}
}

// SetStore enables dedup persistence: the cooldown cache survives restarts,
// so a restart right after an event doesn't renotify everyone. Call LoadDedup
// afterwards to seed the cache.
func (d *Dispatcher) SetStore(store storage.Store) { d.store = store }

// LoadDedup seeds the cooldown cache from the store. Best-effort: an empty
// cache on error only risks one duplicate notification.
func (d *Dispatcher) LoadDedup(ctx context.Context) {
	if d.store == nil {
		return
	}
	entries, err := d.store.LoadDedupEntries(ctx)
	if err != nil {
		d.log.Warn("dedup cache load failed", logx.Err(err))
		return
	}
	d.mu.Lock()
	for k, until := range entries {
		d.seen[k] = until
	}
	d.mu.Unlock()
	d.log.Debug("dedup cache loaded", logx.Int("entries", len(entries)))
}

// Event renders a notable change and broadcasts it to every subscriber.
func (d *Dispatcher) Event(ctx context.Context, ev watch.Event) {
	d.Broadcast(ctx, RenderEvent(ev), ev.Urgent(), eventKey(ev))
}

// Status routes a periodic report to the administrative subscriber only.
func (d *Dispatcher) Status(ctx context.Context, st watch.Status) {
	if d.admin.ChatID == 0 {
		return
	}
	if err := d.ToAdmin(ctx, RenderStatus(st)); err != nil {
		d.log.Warn("status delivery failed", logx.Err(err))
	}
}

// System broadcasts a plain lifecycle message (no urgency, no dedup).
func (d *Dispatcher) System(ctx context.Context, text string) {
	d.Broadcast(ctx, text, false, "")
}

// ToAdmin sends one silent message to the administrative subscriber.
func (d *Dispatcher) ToAdmin(ctx context.Context, text string) error {
	if d.admin.ChatID == 0 {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	return d.sender.SendText(ctx, d.admin, text, &transport.SendOptions{Silent: true, DisablePreview: true})
}

// Broadcast delivers text to every subscriber in the current snapshot. When
// urgent, the message is wrapped in a fixed sequence of emphasis sub-messages
// with small inter-message delays, so one notification may map to several
// delivered units.
func (d *Dispatcher) Broadcast(ctx context.Context, text string, urgent bool, key string) Result {
	if key != "" && d.suppressed(key) {
		d.log.Debug("broadcast suppressed by cooldown", logx.String("key", key))
		return Result{Deduped: true}
	}

	targets := d.reg.Snapshot()
	var res Result
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := d.deliver(ctx, t, text, urgent); err != nil {
			res.Failed++
			d.log.Warn("delivery failed", logx.Int64("chat_id", t.ChatID), logx.Err(err))
			continue
		}
		res.Sent++
	}

	d.log.Debug("broadcast finished", logx.Int("sent", res.Sent), logx.Int("failed", res.Failed), logx.Bool("urgent", urgent))
	return res
}

// deliver sends one logical notification to one subscriber. No retries:
// at-most-once per broadcast call.
func (d *Dispatcher) deliver(ctx context.Context, to transport.ChatTarget, text string, urgent bool) error {
	if !urgent {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		return d.sender.SendText(ctx, to, text, &transport.SendOptions{Silent: true, DisablePreview: true})
	}

	for i, part := range urgentSequence(text) {
		if i > 0 {
			if err := d.sleep(ctx, part.pause); err != nil {
				return err
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := d.sender.SendText(ctx, to, part.text, &transport.SendOptions{DisablePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

// suppressed checks-and-records the cooldown entry for key.
func (d *Dispatcher) suppressed(key string) bool {
	if d.cfg.Cooldown <= 0 {
		return false
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if until, ok := d.seen[key]; ok && now.Before(until) {
		return true
	}
	until := now.Add(d.cfg.Cooldown)
	d.seen[key] = until
	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.store.SaveDedupEntry(ctx, key, until); err != nil {
			d.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
		cancel()
	}

	if len(d.seen) > d.cfg.DedupMaxEntries {
		for k, until := range d.seen {
			if now.After(until) {
				delete(d.seen, k)
			}
		}
		// Still over cap after expiry pruning: drop arbitrary entries. Losing
		// a cooldown record only risks one extra notification.
		for k := range d.seen {
			if len(d.seen) <= d.cfg.DedupMaxEntries {
				break
			}
			delete(d.seen, k)
		}
	}
	return false
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
