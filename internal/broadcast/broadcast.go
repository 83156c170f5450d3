// Package broadcast fans one message out to a tenant's destinations in
// bounded concurrent groups, retrying transient failures per destination.
package broadcast

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

// Sender is the transport slice fan-out delivers on.
type Sender interface {
	Send(ctx context.Context, destination string, msg transport.Message) error
}

// Counter receives per-destination delivery tallies. Failures to count
// never fail the pass.
type Counter interface {
	BumpForward(ctx context.Context, tenantID, name string, n int64) error
}

// Alerter is told about degraded passes. A nil-receiver-safe
// implementation (see notify.Notifier) may be passed as nil.
type Alerter interface {
	FailureAlert(ctx context.Context, passID string, total, successful int, failed []string)
}

type Config struct {
	// GroupSize destinations are sent concurrently, then the pass pauses
	// for a random duration in [GroupPauseMin, GroupPauseMax).
	GroupSize     int
	GroupPauseMin time.Duration
	GroupPauseMax time.Duration

	// RetryMax extra attempts per destination; RetryBase grows linearly
	// with the attempt number unless the platform supplied a cooldown.
	RetryMax  int
	RetryBase time.Duration

	// SendRate caps deliveries per second across the whole pass.
	SendRate float64

	// AlertThreshold is the failure ratio at or above which the pass is
	// reported as degraded.
	AlertThreshold float64
}

func (c Config) withDefaults() Config {
	if c.GroupSize < 1 {
		c.GroupSize = 20
	}
	if c.GroupPauseMin <= 0 {
		c.GroupPauseMin = 500 * time.Millisecond
	}
	if c.GroupPauseMax <= c.GroupPauseMin {
		c.GroupPauseMax = c.GroupPauseMin + 1500*time.Millisecond
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.SendRate <= 0 {
		c.SendRate = 25
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 0.30
	}
	return c
}

// Result summarizes one fan-out pass. Failed holds destination names in
// no particular order.
type Result struct {
	PassID     string
	Total      int
	Successful int
	Failed     []string
	Took       time.Duration
}

type Broadcaster struct {
	cfg     Config
	sender  Sender
	counter Counter
	alerter Alerter
	log     logx.Logger
	limiter *rate.Limiter
	rng     *rand.Rand

	// Injected for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(cfg Config, sender Sender, counter Counter, alerter Alerter, log logx.Logger) *Broadcaster {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{
		cfg:     cfg,
		sender:  sender,
		counter: counter,
		alerter: alerter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.GroupSize),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Send delivers msg to every destination and reports the outcome. An
// empty destination list yields an empty result, not an error.
func (b *Broadcaster) Send(ctx context.Context, tenantID string, msg transport.Message, destinations []string) Result {
	res := Result{PassID: uuid.NewString(), Total: len(destinations)}
	start := b.now()
	defer func() { res.Took = b.now().Sub(start) }()

	if len(destinations) == 0 {
		return res
	}
	log := b.log.With(logx.String("pass", res.PassID), logx.String("tenant", tenantID))
	log.Debug("broadcast started", logx.Int("destinations", res.Total))

	var mu sync.Mutex
	for lo := 0; lo < len(destinations); lo += b.cfg.GroupSize {
		hi := lo + b.cfg.GroupSize
		if hi > len(destinations) {
			hi = len(destinations)
		}

		var wg sync.WaitGroup
		for _, dest := range destinations[lo:hi] {
			wg.Add(1)
			go func(dest string) {
				defer wg.Done()
				err := b.sendOne(ctx, log, dest, msg)
				mu.Lock()
				if err == nil {
					res.Successful++
				} else {
					res.Failed = append(res.Failed, dest)
				}
				mu.Unlock()
				if err == nil && b.counter != nil {
					if cerr := b.counter.BumpForward(ctx, tenantID, dest, 1); cerr != nil {
						log.Warn("forward counter update failed",
							logx.String("dest", dest), logx.Err(cerr))
					}
				}
			}(dest)
		}
		wg.Wait()

		if hi < len(destinations) {
			if err := b.sleep(ctx, b.groupPause()); err != nil {
				// Context gone: everything not yet attempted counts failed.
				mu.Lock()
				for _, dest := range destinations[hi:] {
					res.Failed = append(res.Failed, dest)
				}
				mu.Unlock()
				break
			}
		}
	}

	log.Info("broadcast finished",
		logx.Int("total", res.Total),
		logx.Int("successful", res.Successful),
		logx.Int("failed", len(res.Failed)))

	if b.alerter != nil && res.Total > 0 {
		if ratio := float64(len(res.Failed)) / float64(res.Total); ratio >= b.cfg.AlertThreshold {
			b.alerter.FailureAlert(ctx, res.PassID, res.Total, res.Successful, res.Failed)
		}
	}
	return res
}

func (b *Broadcaster) sendOne(ctx context.Context, log logx.Logger, dest string, msg transport.Message) error {
	maxAttempts := 1 + b.cfg.RetryMax
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if b.limiter != nil {
			if werr := b.limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = b.sender.Send(ctx, dest, msg)
		if err == nil {
			return nil
		}
		if transport.IsPermanent(err) {
			log.Debug("destination rejected", logx.String("dest", dest), logx.Err(err))
			return err
		}
		if attempt >= maxAttempts {
			break
		}
		delay := b.cfg.RetryBase * time.Duration(attempt)
		if hint, ok := transport.CooldownHint(err); ok {
			delay = hint
		}
		log.Debug("send retry scheduled",
			logx.String("dest", dest), logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay), logx.Err(err))
		if serr := b.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	log.Warn("destination failed", logx.String("dest", dest), logx.Err(err))
	return err
}

func (b *Broadcaster) groupPause() time.Duration {
	span := b.cfg.GroupPauseMax - b.cfg.GroupPauseMin
	return b.cfg.GroupPauseMin + time.Duration(b.rng.Int63n(int64(span)))
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
