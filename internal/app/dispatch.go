package app

import (
	"context"
	"time"

	"relaycast/internal/broadcast"
	"relaycast/internal/channels"
	"relaycast/internal/store"
	logx "relaycast/pkg/logx"
)

// dispatcher delivers one due post to the owning tenant's active
// destinations. The channel list is re-read before every post so
// mutations land mid-queue.
type dispatcher struct {
	cache *channels.Cache
	bc    *broadcast.Broadcaster
	sink  *store.Store
	log   logx.Logger
}

func (d *dispatcher) Dispatch(ctx context.Context, tn store.Tenant, post store.Post) (int, error) {
	if err := d.cache.Reload(ctx); err != nil {
		return 0, err
	}
	dests := d.cache.Snapshot()
	if len(dests) == 0 {
		return 0, nil
	}

	res := d.bc.Send(ctx, tn.ID, post.Content, dests)

	if err := d.sink.AppendLog(ctx, store.LogEntry{
		TenantID:   tn.ID,
		PassID:     res.PassID,
		MessageID:  post.ID,
		Kind:       string(post.Content.Kind),
		At:         time.Now().UTC(),
		Total:      res.Total,
		Successful: res.Successful,
		Failed:     len(res.Failed),
		Took:       res.Took,
	}); err != nil {
		d.log.Warn("pass log write failed", logx.Err(err))
	}
	return res.Successful, nil
}
