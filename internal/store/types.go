package store

import (
	"time"

	"relaycast/internal/transport"
)

// Tenant kinds.
const (
	KindScheduler = "scheduler"
	KindForwarder = "forwarder"
)

// Tenant is one registered bot. The ID is derived from the token, so any
// run of the process maps the same token to the same rows.
type Tenant struct {
	ID        string
	Token     string
	Kind      string
	CreatedAt time.Time
}

// Channel is one destination owned by a tenant. Deactivated channels keep
// their row (and forward counter) so re-adding restores history.
type Channel struct {
	Name        string
	Active      bool
	Forwards    int64
	LastForward time.Time // zero when nothing was ever delivered
	AddedAt     time.Time
}

// Post is one scheduled unit of content. Targets freezes the size of the
// channel set at schedule time so later additions do not change a
// historical item's denominator; Successes is set once at delivery.
type Post struct {
	ID        int64
	TenantID  string
	Content   transport.Message
	At        time.Time
	Batch     int
	Day       int
	Targets   int
	Successes int
	Sent      bool
	SentAt    time.Time
}

// LogEntry records the outcome of one fan-out pass.
type LogEntry struct {
	TenantID   string
	PassID     string
	MessageID  int64  // post id for scheduled passes, platform message id for relayed ones
	Kind       string // content-type label
	At         time.Time
	Total      int
	Successful int
	Failed     int
	Took       time.Duration
}

// Stats summarizes a tenant's queue.
type Stats struct {
	Pending int
	Sent    int
}

// LogStats aggregates a tenant's fan-out history.
type LogStats struct {
	Passes     int
	Successful int64
	Failed     int64
}

// Config selects where the database lives.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}
