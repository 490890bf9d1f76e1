package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"slotwatch/internal/notify"
	"slotwatch/internal/registry"
	"slotwatch/internal/transport"
	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

// watchKey names the single global poll task. One watcher serves all
// subscribers.
const watchKey = "default"

const helpText = `Commands:
/start — subscribe to appointment alerts and start checking
/stop — unsubscribe from alerts
/slots — show the known dates and time slots
/check — run one check right now
/help — this message`

// router maps chat commands onto the registry and the poll manager.
type router struct {
	sender  transport.Sender
	reg     *registry.Registry
	manager *watch.Manager
	state   *watch.State
	adminID int64
	log     logx.Logger

	// taskCtx is the long-lived context poll tasks are bound to; command
	// contexts are too short-lived for that.
	mu      sync.Mutex
	taskCtx context.Context
}

func newRouter(sender transport.Sender, reg *registry.Registry, manager *watch.Manager, state *watch.State, adminID int64, log logx.Logger) *router {
	return &router{
		sender:  sender,
		reg:     reg,
		manager: manager,
		state:   state,
		adminID: adminID,
		log:     log,
	}
}

func (r *router) bind(taskCtx context.Context) {
	r.mu.Lock()
	r.taskCtx = taskCtx
	r.mu.Unlock()
}

func (r *router) register(a transport.Adapter) {
	a.Handle("/start", r.handleStart)
	a.Handle("/stop", r.handleStop)
	a.Handle("/slots", r.handleSlots)
	a.Handle("/check", r.handleCheck)
	a.Handle("/restart", r.handleRestart)
	a.Handle("/help", r.handleHelp)
}

func (r *router) reply(ctx context.Context, m transport.Message, text string) {
	err := r.sender.SendText(ctx, transport.ChatTarget{ChatID: m.ChatID}, text, &transport.SendOptions{DisablePreview: true})
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (r *router) handleStart(ctx context.Context, m transport.Message) {
	created, err := r.reg.Subscribe(ctx, m.FromID, m.ChatID)
	if errors.Is(err, registry.ErrFull) {
		r.reply(ctx, m, fmt.Sprintf("Sorry, the subscriber limit (%d) is reached.", r.reg.Cap()))
		return
	}
	if err != nil {
		r.reply(ctx, m, "Subscription failed, please try again.")
		return
	}

	if created {
		r.reply(ctx, m, "Subscribed. You'll be notified when appointment availability changes.\n\n"+helpText)
	} else {
		r.reply(ctx, m, "You're already subscribed.")
	}

	r.mu.Lock()
	taskCtx := r.taskCtx
	r.mu.Unlock()
	if taskCtx != nil && !r.manager.Running(watchKey) {
		r.manager.Start(taskCtx, watchKey)
	}
}

func (r *router) handleStop(ctx context.Context, m transport.Message) {
	if !r.reg.Unsubscribe(ctx, m.FromID) {
		r.reply(ctx, m, "You weren't subscribed.")
		return
	}
	r.reply(ctx, m, "Unsubscribed. Send /start to subscribe again.")

	// Nobody left to notify: stop polling until someone subscribes again.
	if r.reg.Len() == 0 {
		r.log.Info("no subscribers left; stopping checks")
		go r.manager.Stop(watchKey)
	}
}

func (r *router) handleSlots(ctx context.Context, m transport.Message) {
	text := notify.RenderSnapshot(r.state.Snapshot())
	if r.manager.Running(watchKey) {
		text += "\n\nChecks are running."
	} else {
		text += "\n\nChecks are stopped. Send /start to begin."
	}
	r.reply(ctx, m, text)
}

func (r *router) handleCheck(ctx context.Context, m transport.Message) {
	dates, err := r.manager.Peek(ctx)
	if err != nil {
		r.log.Warn("on-demand check failed", logx.Err(err))
		r.reply(ctx, m, "Check failed: the booking system did not answer. Try again later.")
		return
	}
	if len(dates) == 0 {
		r.reply(ctx, m, "No appointments available right now.")
		return
	}
	earliest := dates[0].Date
	for _, d := range dates[1:] {
		if d.Date < earliest {
			earliest = d.Date
		}
	}
	r.reply(ctx, m, fmt.Sprintf("📅 Earliest available date: %s (%d dates total).", earliest, len(dates)))
}

// handleRestart force-restarts the poll task, cancelling any prior run.
// Admin only.
func (r *router) handleRestart(ctx context.Context, m transport.Message) {
	if r.adminID == 0 || m.FromID != r.adminID {
		r.reply(ctx, m, "This command is restricted.")
		return
	}
	r.mu.Lock()
	taskCtx := r.taskCtx
	r.mu.Unlock()
	if taskCtx == nil {
		r.reply(ctx, m, "Not running.")
		return
	}
	r.manager.Start(taskCtx, watchKey)
}

func (r *router) handleHelp(ctx context.Context, m transport.Message) {
	r.reply(ctx, m, helpText)
}
