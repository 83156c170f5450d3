// Package notify delivers operator alerts to an admin chat. A nil
// Notifier is valid and drops everything, so callers never guard.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "relaycast/pkg/logx"
)

const failPreview = 10

// Sender is the transport slice alerts go out on.
type Sender interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Notifier struct {
	sender  Sender
	chatID  int64
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a notifier for the admin chat. chatID 0 disables alerts.
func New(sender Sender, chatID int64, log logx.Logger) *Notifier {
	if sender == nil || chatID == 0 {
		return nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		sender:  sender,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		log:     log,
	}
}

// Alert sends one message, subject to the rate limit. Over-limit alerts
// are dropped with a log line rather than queued.
func (n *Notifier) Alert(ctx context.Context, text string) {
	if n == nil {
		return
	}
	if !n.limiter.Allow() {
		n.log.Warn("alert dropped by rate limit")
		return
	}
	if err := n.sender.Notify(ctx, n.chatID, text); err != nil {
		n.log.Error("alert send failed", logx.Err(err))
	}
}

// FailureAlert formats a degraded fan-out pass: counts plus a capped
// preview of the failed destinations.
func (n *Notifier) FailureAlert(ctx context.Context, passID string, total, successful int, failed []string) {
	if n == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "broadcast degraded: %d/%d delivered (pass %s)\n", successful, total, passID)
	preview := failed
	if len(preview) > failPreview {
		preview = preview[:failPreview]
	}
	for _, name := range preview {
		b.WriteString("  - ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if rest := len(failed) - len(preview); rest > 0 {
		fmt.Fprintf(&b, "  ... and %d more\n", rest)
	}
	n.Alert(ctx, b.String())
}
