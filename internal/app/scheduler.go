package app

import (
	"context"
	"time"

	"relaycast/internal/channels"
	"relaycast/internal/config"
	"relaycast/internal/plan"
	"relaycast/internal/poller"
	"relaycast/internal/schedule"
	logx "relaycast/pkg/logx"
)

// RunScheduler runs the due-work poller until ctx is canceled.
func (a *App) RunScheduler(ctx context.Context) error {
	pcfg, err := a.pollerConfig()
	if err != nil {
		return err
	}

	cache := channels.New(a.st, a.tenant.ID)
	disp := &dispatcher{
		cache: cache,
		bc:    a.bc,
		sink:  a.st,
		log:   a.log.With(logx.String("component", "dispatch")),
	}
	p := poller.New(pcfg, a.st, disp, a.log.With(logx.String("component", "poller")))
	p.Watchdog = a.watchdogFunc()

	a.watchConfig(ctx, cache)
	if err := p.Start(ctx); err != nil {
		return err
	}
	a.notifyReady()
	a.log.Info("scheduler running", logx.String("tenant", a.tenant.ID))

	<-ctx.Done()
	p.Stop()
	return nil
}

// Scheduler exposes the planning-and-enqueue surface for this tenant.
func (a *App) Scheduler() (*schedule.Service, error) {
	stagger, err := config.ParseDurationOrDefault("planner.stagger", a.cfg.Planner.Stagger, 2*time.Second)
	if err != nil {
		return nil, err
	}
	pl := plan.New(a.loc)
	pl.Stagger = stagger
	return schedule.New(a.st, a.tenant.ID, pl), nil
}

func (a *App) pollerConfig() (poller.Config, error) {
	cfg := a.cfg.Poller
	tick, err := config.ParseDurationOrDefault("poller.tick", cfg.Tick, 15*time.Second)
	if err != nil {
		return poller.Config{}, err
	}
	itemPause, err := config.ParseDurationField("poller.item_pause", cfg.ItemPause)
	if err != nil {
		return poller.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("poller.retention", cfg.Retention, 24*time.Hour)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Tick:       tick,
		BatchLimit: cfg.BatchLimit,
		ItemPause:  itemPause,
		SweepEvery: cfg.SweepEvery,
		Retention:  retention,
	}, nil
}
