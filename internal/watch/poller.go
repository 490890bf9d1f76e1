package watch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"slotwatch/internal/visa"
	"slotwatch/pkg/logx"
)

// DefaultJitterFraction is the lower bound ratio for the randomized sleep
// between cycles; the interval is drawn uniformly from
// [interval*fraction, interval] to avoid a fixed polling cadence.
const DefaultJitterFraction = 0.1485

const DefaultInterval = 700 * time.Second

// errRebooked signals a clean task exit after a confirmed rebooking.
var errRebooked = errors.New("rebooked")

// Authenticator produces valid request credentials on demand,
// re-authenticating when invalid.
type Authenticator interface {
	EnsureValid(ctx context.Context) (string, error)
	Invalidate()
}

// SlotSource fetches the current observation. Pure query, no state.
type SlotSource interface {
	FetchDates(ctx context.Context, csrf string) ([]visa.DateSlot, error)
	FetchTimes(ctx context.Context, csrf, date string) ([]string, error)
}

// Notifier receives classified events and task lifecycle messages.
type Notifier interface {
	// Event fans a notable change out to all subscribers.
	Event(ctx context.Context, ev Event)
	// Status routes periodic reports to the administrative subscriber only.
	Status(ctx context.Context, st Status)
	// System broadcasts a plain lifecycle message (starting/stopped/terminal).
	System(ctx context.Context, text string)
}

// Rebooker attempts to claim a qualifying slot. Optional.
type Rebooker interface {
	Suitable(date string) bool
	Rebook(ctx context.Context, csrf, date string) (bool, error)
}

type TaskState string

const (
	TaskRunning TaskState = "running"
	TaskStopped TaskState = "stopped"
	TaskFailed  TaskState = "failed"
	TaskDone    TaskState = "done"
)

// TaskInfo is a point-in-time view of one poll task.
type TaskInfo struct {
	Key       string
	State     TaskState
	Polls     int
	StartedAt time.Time
}

type task struct {
	key       string
	cancel    context.CancelFunc
	done      chan struct{}
	detector  *Detector
	rng       *rand.Rand
	startedAt time.Time

	mu    sync.Mutex
	state TaskState
}

func (t *task) setState(s TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskInfo{Key: t.key, State: t.state, Polls: t.detector.Polls(), StartedAt: t.startedAt}
}

// Config tunes the poll scheduler.
type Config struct {
	Interval       time.Duration
	JitterFraction float64
	StatusEvery    int
	Horizons       []Horizon
}

// Manager drives the poll→detect→notify cycle. At most one task is active
// per context key; starting a new one cancels and awaits any prior task
// bound to the same key.
type Manager struct {
	cfg      Config
	auth     Authenticator
	source   SlotSource
	notifier Notifier
	rebooker Rebooker // nil disables rebooking
	state    *State
	log      logx.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

func NewManager(cfg Config, auth Authenticator, source SlotSource, notifier Notifier, state *State, log logx.Logger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.JitterFraction <= 0 || cfg.JitterFraction >= 1 {
		cfg.JitterFraction = DefaultJitterFraction
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:      cfg,
		auth:     auth,
		source:   source,
		notifier: notifier,
		state:    state,
		log:      log,
		tasks:    map[string]*task{},
	}
}

// SetRebooker enables automatic rebooking attempts on qualifying events.
func (m *Manager) SetRebooker(r Rebooker) { m.rebooker = r }

// Start launches a poll task for the given context key. Any prior task bound
// to the same key is cancelled and awaited first, so two pollers never run
// concurrently for one key.
func (m *Manager) Start(ctx context.Context, key string) {
	m.mu.Lock()
	prior := m.tasks[key]
	m.mu.Unlock()

	if prior != nil {
		prior.cancel()
		<-prior.done
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		key:       key,
		cancel:    cancel,
		done:      make(chan struct{}),
		detector:  NewDetector(m.state, m.cfg.Horizons, m.cfg.StatusEvery, m.log.With(logx.String("task", key))),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		startedAt: time.Now(),
		state:     TaskRunning,
	}

	m.mu.Lock()
	m.tasks[key] = t
	m.mu.Unlock()

	go m.run(taskCtx, t)
}

// Stop cancels the task for key and waits for it to exit. Returns false when
// no task was running.
func (m *Manager) Stop(key string) bool {
	m.mu.Lock()
	t := m.tasks[key]
	m.mu.Unlock()
	if t == nil {
		return false
	}
	running := t.info().State == TaskRunning
	t.cancel()
	<-t.done
	return running
}

// StopAll cancels every task and waits for them, best-effort within ctx.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return
		}
	}
}

// Running reports whether a task for key is currently active.
func (m *Manager) Running(key string) bool {
	info, ok := m.Info(key)
	return ok && info.State == TaskRunning
}

// Info returns the last-known state of the task for key.
func (m *Manager) Info(key string) (TaskInfo, bool) {
	m.mu.Lock()
	t := m.tasks[key]
	m.mu.Unlock()
	if t == nil {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Tasks returns a stable-ordered view of every known task.
func (m *Manager) Tasks() []TaskInfo {
	m.mu.Lock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Peek performs a one-off authenticated fetch without touching detector
// state. Used by the on-demand check command.
func (m *Manager) Peek(ctx context.Context) ([]visa.DateSlot, error) {
	csrf, err := m.auth.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return m.source.FetchDates(ctx, csrf)
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer close(t.done)

	m.notifier.System(ctx, fmt.Sprintf(
		"Starting appointment checks every ~%d seconds.", int(m.cfg.Interval.Seconds())))

	for {
		if ctx.Err() != nil {
			m.finishStopped(t)
			return
		}

		err := m.cycle(ctx, t)
		switch {
		case err == nil:
		case errors.Is(err, errRebooked):
			t.setState(TaskDone)
			return
		case ctx.Err() != nil:
			m.finishStopped(t)
			return
		default:
			// Authentication failure is terminal for this task.
			var ae *visa.AuthError
			if errors.As(err, &ae) {
				m.log.Error("authentication failed; stopping task", logx.String("task", t.key), logx.Err(err))
				m.systemDetached("Appointment checks stopped: could not sign in to the booking system. Please verify the credentials.")
				t.setState(TaskFailed)
				return
			}
			m.log.Error("poll cycle error", logx.String("task", t.key), logx.Err(err))
		}

		wait := jitterInterval(t.rng, m.cfg.Interval, m.cfg.JitterFraction)
		m.log.Debug("next check scheduled", logx.String("task", t.key), logx.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			m.finishStopped(t)
			return
		case <-timer.C:
		}
	}
}

// cycle runs one poll: ensure credentials, fetch, classify, notify. A
// recoverable fetch failure yields no observation; the detector is not fed,
// so a flaky upstream can't fake an availability-lost transition.
func (m *Manager) cycle(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in poll cycle", logx.String("task", t.key), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = nil
		}
	}()

	csrf, err := m.auth.EnsureValid(ctx)
	if err != nil {
		return err
	}

	dates, err := m.source.FetchDates(ctx, csrf)
	if err != nil {
		if errors.Is(err, visa.ErrLoggedOut) {
			m.auth.Invalidate()
		}
		m.log.Warn("fetch failed; skipping cycle", logx.String("task", t.key), logx.Err(err))
		return nil
	}

	ev, st := t.detector.Classify(ctx, dates, func(c context.Context, date string) ([]string, error) {
		return m.source.FetchTimes(c, csrf, date)
	})

	if ev.Notable() {
		m.notifier.Event(ctx, ev)
	}
	if st != nil {
		m.notifier.Status(ctx, *st)
	}

	if m.rebooker != nil && eligibleForRebook(ev) && m.rebooker.Suitable(ev.Earliest) {
		ok, rerr := m.rebooker.Rebook(ctx, csrf, ev.Earliest)
		switch {
		case rerr != nil:
			m.log.Warn("rebook attempt errored", logx.String("date", ev.Earliest), logx.Err(rerr))
		case ok:
			m.notifier.System(ctx, fmt.Sprintf("Appointment rescheduled to %s. Checks stopped.", ev.Earliest))
			return errRebooked
		default:
			m.notifier.System(ctx, fmt.Sprintf("Rebooking to %s failed; the slot may have been taken. Checks continue.", ev.Earliest))
		}
	}
	return nil
}

func eligibleForRebook(ev Event) bool {
	return ev.Kind == EventNewAvailability || ev.Kind == EventEarlierAvailability
}

// finishStopped marks the task stopped and sends one best-effort "stopped"
// notification. The task context is already cancelled here, so the send uses
// a short detached context.
func (m *Manager) finishStopped(t *task) {
	t.setState(TaskStopped)
	m.systemDetached("Appointment checks have been stopped.")
}

func (m *Manager) systemDetached(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.notifier.System(ctx, text)
}

// jitterInterval draws the sleep uniformly from [interval*frac, interval].
func jitterInterval(rng *rand.Rand, interval time.Duration, frac float64) time.Duration {
	if frac <= 0 || frac >= 1 {
		frac = DefaultJitterFraction
	}
	low := time.Duration(float64(interval) * frac)
	if interval <= low {
		return interval
	}
	return low + time.Duration(rng.Int63n(int64(interval-low)+1))
}
