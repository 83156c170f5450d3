package plan

import (
	"errors"
	"time"

	"relaycast/internal/transport"
)

var (
	ErrNoItems     = errors.New("plan: no items")
	ErrBadSize     = errors.New("plan: batch size must be >= 1")
	ErrBadInterval = errors.New("plan: interval must be >= 1 minute")
	ErrTooManyDays = errors.New("plan: more days than items; need at least one item per day")
	ErrBadWindow   = errors.New("plan: window start and end hour cannot be equal")
)

// Entry is one planned unit: content plus its UTC send instant.
// Batch and Day are 1-based ordinals kept for previews and stats.
type Entry struct {
	Content transport.Message
	At      time.Time
	Batch   int
	Day     int
}

// DayWindow is a daily posting window. Either an explicit end hour
// (wrapping past midnight allowed) or a fixed duration from StartHour;
// both express the same boundary decisions.
type DayWindow struct {
	StartHour int
	EndHour   int

	Duration    time.Duration
	UseDuration bool
}

// Minutes returns the window length.
func (w DayWindow) Minutes() (time.Duration, error) {
	if w.UseDuration {
		if w.Duration <= 0 {
			return 0, ErrBadWindow
		}
		return w.Duration, nil
	}
	if w.EndHour == w.StartHour {
		return 0, ErrBadWindow
	}
	if w.EndHour > w.StartHour {
		return time.Duration(w.EndHour-w.StartHour) * time.Hour, nil
	}
	return time.Duration(24-w.StartHour+w.EndHour) * time.Hour, nil
}

// Planner computes send times. It performs no I/O; all returned instants
// are UTC. Loc is the display zone day-boundary math runs in; Stagger is
// the small intra-batch offset that avoids simultaneous sends.
type Planner struct {
	Loc     *time.Location
	Stagger time.Duration
}

func New(loc *time.Location) Planner {
	if loc == nil {
		loc = time.UTC
	}
	return Planner{Loc: loc, Stagger: 2 * time.Second}
}

func (p Planner) stagger() time.Duration {
	if p.Stagger < 0 {
		return 0
	}
	return p.Stagger
}

func (p Planner) loc() *time.Location {
	if p.Loc == nil {
		return time.UTC
	}
	return p.Loc
}
