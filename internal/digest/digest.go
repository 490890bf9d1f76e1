// Package digest sends a scheduled summary of the watcher state to the
// administrative subscriber.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"slotwatch/internal/notify"
	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

// DefaultSpec fires once a day at 09:00 local time.
const DefaultSpec = "0 9 * * *"

type Config struct {
	Enabled  bool
	Spec     string // cron expression, 5-field or descriptor form
	Timezone string // IANA name; empty means local
}

type Service struct {
	cfg     Config
	state   *watch.State
	manager *watch.Manager
	disp    *notify.Dispatcher
	log     logx.Logger

	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, state *watch.State, manager *watch.Manager, disp *notify.Dispatcher, log logx.Logger) *Service {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = DefaultSpec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		state:   state,
		manager: manager,
		disp:    disp,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("digest disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Spec, func() { s.fire(ctx) }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.cfg.Spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("digest stopped")
}

func (s *Service) fire(ctx context.Context) {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.disp.ToAdmin(sendCtx, s.render()); err != nil {
		s.log.Warn("digest delivery failed", logx.Err(err))
	}
}

func (s *Service) render() string {
	snap := s.state.Snapshot()

	var b strings.Builder
	b.WriteString("📋 Daily summary\n\n")
	if snap.Earliest == "" {
		b.WriteString("No appointments seen at the last check.\n")
	} else {
		fmt.Fprintf(&b, "Earliest known date: %s\n", snap.Earliest)
	}
	if !snap.LastCheckedAt.IsZero() {
		fmt.Fprintf(&b, "Last checked: %s\n", snap.LastCheckedAt.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "Dates on record: %d\n", len(snap.Dates))

	infos := s.manager.Tasks()
	if len(infos) == 0 {
		b.WriteString("No active watch task.")
	} else {
		for _, info := range infos {
			fmt.Fprintf(&b, "Watch %q: %s, %d checks", info.Key, info.State, info.Polls)
			if !info.StartedAt.IsZero() {
				fmt.Fprintf(&b, ", running since %s", info.StartedAt.Format("2006-01-02 15:04"))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
