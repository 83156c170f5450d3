// Package poller drives due-work delivery: on a fixed tick it drains each
// tenant's due posts in schedule order, and periodically sweeps delivered
// rows past the retention horizon.
package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaycast/internal/store"
	logx "relaycast/pkg/logx"
)

// Store is the persistence slice the poller needs.
type Store interface {
	Tenants(ctx context.Context) ([]store.Tenant, error)
	DuePosts(ctx context.Context, tenantID string, now time.Time, limit int) ([]store.Post, error)
	MarkSent(ctx context.Context, id int64, successful int, at time.Time) (bool, error)
	DeleteSentBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
}

// Dispatcher delivers one due post for a tenant and reports how many
// destinations accepted it.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenant store.Tenant, post store.Post) (successful int, err error)
}

type Config struct {
	Tick       time.Duration
	BatchLimit int
	ItemPause  time.Duration
	SweepEvery int           // sweep runs on every Nth tick
	Retention  time.Duration // how long delivered posts are kept
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 15 * time.Second
	}
	if c.BatchLimit < 1 {
		c.BatchLimit = 200
	}
	if c.ItemPause < 0 {
		c.ItemPause = 0
	}
	if c.SweepEvery < 1 {
		c.SweepEvery = 2
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

type Poller struct {
	cfg  Config
	st   Store
	disp Dispatcher
	log  logx.Logger

	c      *cron.Cron
	mu     sync.Mutex // guards against overlapping ticks
	ticks  int
	cancel context.CancelFunc

	// Injected for tests; Watchdog additionally carries the systemd ping.
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	Watchdog func()
}

func New(cfg Config, st Store, disp Dispatcher, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:   cfg.withDefaults(),
		st:    st,
		disp:  disp,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Start schedules the tick and returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.c = cron.New()
	_, err := p.c.AddFunc(fmt.Sprintf("@every %s", p.cfg.Tick), func() {
		p.tick(runCtx)
	})
	if err != nil {
		cancel()
		return err
	}
	p.c.Start()
	p.log.Info("poller started",
		logx.Duration("tick", p.cfg.Tick),
		logx.Duration("retention", p.cfg.Retention))
	return nil
}

// Stop halts ticking and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.c != nil {
		<-p.c.Stop().Done()
	}
	p.mu.Lock()
	p.mu.Unlock()
}

// tick runs one poll pass. A tick still running when the next fires makes
// the new one return immediately instead of piling up.
func (p *Poller) tick(ctx context.Context) {
	if !p.mu.TryLock() {
		p.log.Debug("tick skipped, previous still running")
		return
	}
	defer p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("tick panicked",
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	if p.Watchdog != nil {
		p.Watchdog()
	}

	p.ticks++
	now := p.now().UTC()

	tenants, err := p.st.Tenants(ctx)
	if err != nil {
		p.log.Error("tenant list failed", logx.Err(err))
		return
	}
	sweep := p.ticks%p.cfg.SweepEvery == 0
	for _, tn := range tenants {
		if ctx.Err() != nil {
			return
		}
		p.drainTenant(ctx, tn, now)
		if sweep {
			p.sweepTenant(ctx, tn, now)
		}
	}
}

// drainTenant delivers the tenant's due posts in schedule order. One
// failing post is logged and skipped; the rest of the batch continues.
func (p *Poller) drainTenant(ctx context.Context, tn store.Tenant, now time.Time) {
	due, err := p.st.DuePosts(ctx, tn.ID, now, p.cfg.BatchLimit)
	if err != nil {
		p.log.Error("due query failed", logx.String("tenant", tn.ID), logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}
	log := p.log.With(logx.String("tenant", tn.ID))
	log.Debug("due posts found", logx.Int("count", len(due)))

	for i, post := range due {
		if ctx.Err() != nil {
			return
		}
		successful, err := p.disp.Dispatch(ctx, tn, post)
		if err != nil {
			log.Error("dispatch failed", logx.Int64("post", post.ID), logx.Err(err))
			continue
		}
		if successful == 0 {
			log.Warn("post delivered nowhere", logx.Int64("post", post.ID))
		}
		// A completed pass consumes the post even with zero deliveries;
		// leaving it pending would re-broadcast it every tick.
		if _, err := p.st.MarkSent(ctx, post.ID, successful, p.now().UTC()); err != nil {
			log.Error("mark sent failed", logx.Int64("post", post.ID), logx.Err(err))
		}
		if i < len(due)-1 && p.cfg.ItemPause > 0 {
			if err := p.sleep(ctx, p.cfg.ItemPause); err != nil {
				return
			}
		}
	}
}

func (p *Poller) sweepTenant(ctx context.Context, tn store.Tenant, now time.Time) {
	cutoff := now.Add(-p.cfg.Retention)
	n, err := p.st.DeleteSentBefore(ctx, tn.ID, cutoff)
	if err != nil {
		p.log.Error("sweep failed", logx.String("tenant", tn.ID), logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("sweep removed delivered posts",
			logx.String("tenant", tn.ID), logx.Int64("count", n), logx.Time("cutoff", cutoff))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
