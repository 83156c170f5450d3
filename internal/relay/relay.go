// Package relay copies posts observed on a source channel to every active
// destination of the owning tenant.
package relay

import (
	"context"
	"sync"
	"time"

	"relaycast/internal/broadcast"
	"relaycast/internal/channels"
	"relaycast/internal/store"
	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

// Broadcaster is the fan-out slice the engine drives.
type Broadcaster interface {
	Send(ctx context.Context, tenantID string, msg transport.Message, destinations []string) broadcast.Result
}

// LogSink records pass outcomes.
type LogSink interface {
	AppendLog(ctx context.Context, e store.LogEntry) error
}

// Stats is a running tally of the engine's lifetime.
type Stats struct {
	Relayed  int
	Skipped  int
	LastPass time.Time
}

type Engine struct {
	tenant string
	cache  *channels.Cache
	bc     Broadcaster
	sink   LogSink
	log    logx.Logger

	mu    sync.Mutex
	stats Stats
}

func New(tenantID string, cache *channels.Cache, bc Broadcaster, sink LogSink, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{tenant: tenantID, cache: cache, bc: bc, sink: sink, log: log}
}

// HandleSource relays one observed post. The destination list is re-read
// from the store first, so channels added moments ago are included.
// Unsupported content is skipped without touching any destination.
func (e *Engine) HandleSource(ctx context.Context, post transport.SourcePost) error {
	if !post.Message.Kind.Supported() {
		e.log.Warn("unsupported content skipped",
			logx.String("kind", string(post.Message.Kind)),
			logx.Int("message_id", post.MessageID))
		e.mu.Lock()
		e.stats.Skipped++
		e.mu.Unlock()
		return nil
	}

	if err := e.cache.Reload(ctx); err != nil {
		return err
	}
	dests := e.cache.Snapshot()
	if len(dests) == 0 {
		e.log.Debug("no active destinations", logx.Int("message_id", post.MessageID))
		return nil
	}

	res := e.bc.Send(ctx, e.tenant, post.Message, dests)

	e.mu.Lock()
	e.stats.Relayed++
	e.stats.LastPass = time.Now()
	e.mu.Unlock()

	if e.sink != nil {
		err := e.sink.AppendLog(ctx, store.LogEntry{
			TenantID:   e.tenant,
			PassID:     res.PassID,
			MessageID:  int64(post.MessageID),
			Kind:       string(post.Message.Kind),
			At:         time.Now().UTC(),
			Total:      res.Total,
			Successful: res.Successful,
			Failed:     len(res.Failed),
			Took:       res.Took,
		})
		if err != nil {
			e.log.Warn("pass log write failed", logx.Err(err))
		}
	}
	return nil
}

// Snapshot returns a copy of the running stats.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
