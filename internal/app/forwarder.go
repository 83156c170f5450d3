package app

import (
	"context"
	"time"

	"relaycast/internal/channels"
	"relaycast/internal/relay"
	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

// RunForwarder watches the source channel and relays every supported post
// until ctx is canceled.
func (a *App) RunForwarder(ctx context.Context) error {
	cache := channels.New(a.st, a.tenant.ID)
	eng := relay.New(
		a.tenant.ID,
		cache,
		a.bc,
		a.st,
		a.log.With(logx.String("component", "relay")),
	)

	out := make(chan transport.Update, 64)
	if err := a.adapter.Start(ctx, out); err != nil {
		return err
	}

	a.watchConfig(ctx, cache)
	a.notifyReady()
	a.log.Info("forwarder running",
		logx.String("tenant", a.tenant.ID),
		logx.Int64("source_chat", a.cfg.Telegram.SourceChat))

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.adapter.Stop(stopCtx)
			cancel()
			st := eng.Snapshot()
			a.log.Info("forwarder stopped",
				logx.Int("relayed", st.Relayed), logx.Int("skipped", st.Skipped))
			return err
		case u := <-out:
			if u.Kind != transport.UpdateSourcePost || u.Post == nil {
				continue
			}
			if err := eng.HandleSource(ctx, *u.Post); err != nil {
				a.log.Error("relay failed",
					logx.Int("message_id", u.Post.MessageID), logx.Err(err))
			}
		}
	}
}
