// Package app wires configuration, logging, storage, and the transport
// adapter into the two runnable services.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"relaycast/internal/broadcast"
	"relaycast/internal/channels"
	"relaycast/internal/config"
	"relaycast/internal/notify"
	"relaycast/internal/store"
	"relaycast/internal/transport/telegram"
	logx "relaycast/pkg/logx"
)

type App struct {
	mgr *config.Manager
	cfg *config.Root

	log       logx.Logger
	logCloser io.Closer

	st       *store.Store
	adapter  *telegram.Adapter
	notifier *notify.Notifier
	bc       *broadcast.Broadcaster
	tenant   store.Tenant
	loc      *time.Location
}

// New loads configuration (a .env file is honored when present), opens the
// store, and registers this process's tenant under the given kind.
func New(configPath, kind string) (*App, error) {
	_ = godotenv.Load()

	mgr := config.NewManager(configPath, logx.NewConsole("info"))
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	log, closer, err := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	mgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{mgr: mgr, cfg: cfg, log: log, logCloser: closer, loc: cfg.Location()}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.register(kind); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.cfg

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, a.log.With(logx.String("component", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SourceChat:  cfg.Telegram.SourceChat,
	}, a.log.With(logx.String("component", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.notifier = notify.New(adapter, cfg.Telegram.AdminChat, a.log.With(logx.String("component", "notify")))

	bcCfg, err := a.broadcastConfig()
	if err != nil {
		return err
	}
	a.bc = broadcast.New(bcCfg, adapter, st, a.notifier, a.log.With(logx.String("component", "broadcast")))
	return nil
}

func (a *App) broadcastConfig() (broadcast.Config, error) {
	cfg := a.cfg.Broadcast
	pauseMin, err := config.ParseDurationField("broadcast.group_pause_min", cfg.GroupPauseMin)
	if err != nil {
		return broadcast.Config{}, err
	}
	pauseMax, err := config.ParseDurationField("broadcast.group_pause_max", cfg.GroupPauseMax)
	if err != nil {
		return broadcast.Config{}, err
	}
	retryBase, err := config.ParseDurationField("broadcast.retry_base", cfg.RetryBase)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		GroupSize:      cfg.GroupSize,
		GroupPauseMin:  pauseMin,
		GroupPauseMax:  pauseMax,
		RetryMax:       cfg.RetryMax,
		RetryBase:      retryBase,
		SendRate:       cfg.SendRate,
		AlertThreshold: cfg.AlertThreshold,
	}, nil
}

// register records the tenant and bootstraps its channel list from config.
func (a *App) register(kind string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tn, err := a.st.RegisterTenant(ctx, a.cfg.Telegram.Token, kind)
	if err != nil {
		return fmt.Errorf("register tenant: %w", err)
	}
	a.tenant = tn
	a.log.Info("tenant ready", logx.String("tenant", tn.ID), logx.String("kind", kind))

	for _, name := range a.cfg.Channels {
		if err := a.st.AddChannel(ctx, tn.ID, name); err != nil {
			a.log.Warn("channel bootstrap failed", logx.String("channel", name), logx.Err(err))
		}
	}
	return nil
}

// watchConfig re-applies what can change at runtime and logs the rest.
// The cache is dropped after a channel re-bootstrap so the next pass sees
// the updated list.
func (a *App) watchConfig(ctx context.Context, cache *channels.Cache) {
	a.mgr.Subscribe(func(cfg *config.Root) {
		bctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		for _, name := range cfg.Channels {
			if err := a.st.AddChannel(bctx, a.tenant.ID, name); err != nil {
				a.log.Warn("channel bootstrap failed", logx.String("channel", name), logx.Err(err))
			}
		}
		cache.Invalidate()
		a.log.Info("config change applied; transport and storage changes need a restart")
	})
	go func() {
		if err := a.mgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
}

// notifyReady tells systemd the service is up; a no-op outside a unit.
func (a *App) notifyReady() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
}

// watchdogFunc returns a per-tick watchdog ping when the unit asks for one.
func (a *App) watchdogFunc() func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	return func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
}

func (a *App) Close() {
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
