// Package app wires configuration, transport, polling and notification into
// one startable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"slotwatch/internal/config"
	"slotwatch/internal/digest"
	"slotwatch/internal/notify"
	"slotwatch/internal/registry"
	"slotwatch/internal/runtime/supervisor"
	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/internal/transport/telegram"
	"slotwatch/internal/visa"
	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

// App owns every long-lived component. Start launches them; Stop tears them
// down in reverse order.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   storage.Store
	reg     *registry.Registry
	adapter *telegram.Adapter
	disp    *notify.Dispatcher
	session *visa.Session
	state   *watch.State
	manager *watch.Manager
	digest  *digest.Service
	router  *router

	sup *supervisor.Supervisor
}

func New(configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.log

	// Storage is optional; nil store means in-memory only.
	var storeCfg storage.Config
	if cfg.Storage != nil {
		busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.reg = registry.New(cfg.Notify.MaxSubscribers, store, log.With(logx.String("comp", "registry")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	cooldown, err := config.ParseDurationOrDefault("notify.cooldown", cfg.Notify.Cooldown, 5*time.Minute)
	if err != nil {
		return err
	}
	a.disp = notify.New(notify.Config{
		RatePerSec:      cfg.Notify.RatePerSec,
		Cooldown:        cooldown,
		DedupMaxEntries: cfg.Notify.DedupMaxEntries,
	}, a.adapter, a.reg, transport.ChatTarget{ChatID: cfg.Telegram.AdminChatID}, log.With(logx.String("comp", "notify")))
	if store != nil {
		a.disp.SetStore(store)
	}

	visaTimeout, err := config.ParseDurationOrDefault("visa.timeout", cfg.Visa.Timeout, 30*time.Second)
	if err != nil {
		return err
	}
	creds := visa.Credentials{
		Email:       cfg.Visa.Email,
		Password:    cfg.Visa.Password,
		ScheduleID:  cfg.Visa.ScheduleID,
		FacilityID:  cfg.Visa.FacilityID,
		CountryCode: cfg.Visa.CountryCode,
		VisaType:    cfg.Visa.VisaType,
	}
	if creds.CountryCode == "" {
		creds.CountryCode = "en-ca"
	}
	if creds.VisaType == "" {
		creds.VisaType = "niv"
	}
	client, err := visa.NewClient(creds, visaTimeout)
	if err != nil {
		return fmt.Errorf("visa client: %w", err)
	}

	sessionExpiry, err := config.ParseDurationOrDefault("poll.session_expiry", cfg.Poll.SessionExpiry, visa.DefaultSessionExpiry)
	if err != nil {
		return err
	}
	a.session = visa.NewSession(client, sessionExpiry, log.With(logx.String("comp", "session")))
	source := visa.NewSource(client, log.With(logx.String("comp", "source")))

	interval, err := config.ParseDurationOrDefault("poll.interval", cfg.Poll.Interval, watch.DefaultInterval)
	if err != nil {
		return err
	}
	horizons := watch.DefaultHorizons()
	if len(cfg.Poll.HorizonDays) > 0 {
		horizons = horizons[:0]
		for _, d := range cfg.Poll.HorizonDays {
			horizons = append(horizons, watch.Horizon{Days: d, Label: fmt.Sprintf("within %d days", d)})
		}
	}

	a.state = watch.NewState(cfg.Poll.KnownDatesCap)
	a.manager = watch.NewManager(watch.Config{
		Interval:       interval,
		JitterFraction: cfg.Poll.JitterFraction,
		StatusEvery:    cfg.Poll.StatusEvery,
		Horizons:       horizons,
	}, a.session, source, a.disp, a.state, log.With(logx.String("comp", "watch")))

	if cfg.Rebook != nil && cfg.Rebook.Enabled {
		a.manager.SetRebooker(visa.NewRebooker(client, source, visa.RebookPolicy{
			CurrentAppointment: cfg.Rebook.CurrentAppointment,
			MinLeadDays:        cfg.Rebook.MinLeadDays,
		}, log.With(logx.String("comp", "rebook"))))
	}

	if cfg.Digest != nil {
		a.digest = digest.New(digest.Config{
			Enabled:  cfg.Digest.Enabled,
			Spec:     cfg.Digest.Spec,
			Timezone: cfg.Digest.Timezone,
		}, a.state, a.manager, a.disp, log.With(logx.String("comp", "digest")))
	}

	a.router = newRouter(a.adapter, a.reg, a.manager, a.state, cfg.Telegram.AdminChatID, log.With(logx.String("comp", "router")))
	a.router.register(a.adapter)
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))
	runCtx := a.sup.Context()
	a.router.bind(runCtx)

	if err := a.reg.Load(runCtx); err != nil {
		a.log.Warn("subscriber load failed; starting empty", logx.Err(err))
	}
	a.disp.LoadDedup(runCtx)

	if err := a.adapter.Start(runCtx); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}

	if a.digest != nil {
		if err := a.digest.Start(runCtx); err != nil {
			return fmt.Errorf("start digest: %w", err)
		}
	}

	// Live-apply logging edits; other sections need a restart.
	a.sup.Go0("config.watch", func(c context.Context) {
		_ = a.cfgMgr.Watch(c)
	})
	a.sup.Go0("config.apply", func(c context.Context) {
		ch := a.cfgMgr.Subscribe(1)
		defer a.cfgMgr.Unsubscribe(ch)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				})
				a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
			}
		}
	})

	// Resume polling immediately when subscribers survived a restart.
	if a.reg.Len() > 0 {
		a.manager.Start(runCtx, watchKey)
	}

	a.log.Info("started", logx.Int("subscribers", a.reg.Len()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	a.manager.StopAll(ctx)
	if a.digest != nil {
		a.digest.Stop(ctx)
	}
	_ = a.adapter.Stop(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
	return nil
}
