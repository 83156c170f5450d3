// Package plan converts a user's posting intent into concrete per-item
// send times. All functions are pure: they only compute instants, they
// never touch the store or the network.
package plan

import (
	"math"
	"time"

	"relaycast/internal/transport"
)

// Single plans one item at an exact instant.
func Single(content transport.Message, at time.Time) Entry {
	return Entry{Content: content, At: at.UTC(), Batch: 1, Day: 1}
}

// Bulk spreads items evenly over total, item i firing at
// start + i*(total/n). A single item fires at start.
func (p Planner) Bulk(items []transport.Message, start time.Time, total time.Duration) ([]Entry, error) {
	n := len(items)
	if n == 0 {
		return nil, ErrNoItems
	}
	start = start.UTC()
	var step time.Duration
	if n > 1 {
		step = total / time.Duration(n)
	}
	out := make([]Entry, 0, n)
	for i, c := range items {
		out = append(out, Entry{
			Content: c,
			At:      start.Add(time.Duration(i) * step),
			Batch:   i + 1,
			Day:     1,
		})
	}
	return out, nil
}

// Batch groups items into batches of size and spreads the batches evenly
// over total: ceil(n/size) batches, batch k at start + k*(total/batches).
// Items inside a batch are staggered by a small fixed offset so they never
// hit the platform simultaneously.
func (p Planner) Batch(items []transport.Message, start time.Time, total time.Duration, size int) ([]Entry, error) {
	n := len(items)
	if n == 0 {
		return nil, ErrNoItems
	}
	if size < 1 {
		return nil, ErrBadSize
	}
	start = start.UTC()
	batches := (n + size - 1) / size
	var step time.Duration
	if batches > 1 {
		step = total / time.Duration(batches)
	}
	out := make([]Entry, 0, n)
	for i, c := range items {
		k := i / size
		at := start.Add(time.Duration(k)*step + time.Duration(i%size)*p.stagger())
		out = append(out, Entry{Content: c, At: at, Batch: k + 1, Day: 1})
	}
	return out, nil
}

// AutoContinuous fires batch k at start + (fromBatch+k)*interval with no
// total-duration bound. fromBatch lets content appended later continue the
// series from the next batch index.
func (p Planner) AutoContinuous(items []transport.Message, start time.Time, interval time.Duration, size, fromBatch int) ([]Entry, error) {
	n := len(items)
	if n == 0 {
		return nil, ErrNoItems
	}
	if size < 1 {
		return nil, ErrBadSize
	}
	if interval < time.Minute {
		return nil, ErrBadInterval
	}
	if fromBatch < 0 {
		fromBatch = 0
	}
	start = start.UTC()
	out := make([]Entry, 0, n)
	for i, c := range items {
		k := i / size
		at := start.Add(time.Duration(fromBatch+k)*interval + time.Duration(i%size)*p.stagger())
		out = append(out, Entry{Content: c, At: at, Batch: fromBatch + k + 1, Day: 1})
	}
	return out, nil
}

// MultiDay partitions items across days by proportional index ranges and
// spreads each day's share over the daily window exactly as Batch does.
// days == 0 derives ceil(n/size); days > n is rejected since every day
// must place at least one item.
//
// startDay is any instant on the first calendar day, interpreted in the
// planner's display zone.
func (p Planner) MultiDay(items []transport.Message, startDay time.Time, window DayWindow, size, days int) ([]Entry, error) {
	n := len(items)
	if n == 0 {
		return nil, ErrNoItems
	}
	if size < 1 {
		return nil, ErrBadSize
	}
	if days == 0 {
		days = (n + size - 1) / size
	}
	if days < 1 {
		days = 1
	}
	if days > n {
		return nil, ErrTooManyDays
	}
	length, err := window.Minutes()
	if err != nil {
		return nil, err
	}

	loc := p.loc()
	local := startDay.In(loc)
	y, m, d := local.Date()

	out := make([]Entry, 0, n)
	for day := 0; day < days; day++ {
		lo := int(math.Round(float64(day) * float64(n) / float64(days)))
		hi := int(math.Round(float64(day+1) * float64(n) / float64(days)))
		share := items[lo:hi]
		if len(share) == 0 {
			continue
		}
		windowStart := time.Date(y, m, d+day, window.StartHour, 0, 0, 0, loc).UTC()
		batches := (len(share) + size - 1) / size
		var step time.Duration
		if batches > 1 {
			step = length / time.Duration(batches)
		}
		for i, c := range share {
			k := i / size
			at := windowStart.Add(time.Duration(k)*step + time.Duration(i%size)*p.stagger())
			out = append(out, Entry{Content: c, At: at, Batch: k + 1, Day: day + 1})
		}
	}
	return out, nil
}

// ExAutoContinuous fires batch k at first + k*interval while the running
// wall clock stays inside the daily window; the first batch that would land
// outside is relocated to the window start on the following day.
//
// The window's two spellings (end hour vs duration from start) are
// normalized to one duration so both make identical day decisions.
func (p Planner) ExAutoContinuous(items []transport.Message, first time.Time, interval time.Duration, size int, window DayWindow) ([]Entry, error) {
	n := len(items)
	if n == 0 {
		return nil, ErrNoItems
	}
	if size < 1 {
		return nil, ErrBadSize
	}
	if interval < time.Minute {
		return nil, ErrBadInterval
	}
	length, err := window.Minutes()
	if err != nil {
		return nil, err
	}

	loc := p.loc()
	out := make([]Entry, 0, n)
	current := first.UTC()
	day := 1

	for idx := 0; idx < n; {
		hi := idx + size
		if hi > n {
			hi = n
		}
		for i, c := range items[idx:hi] {
			out = append(out, Entry{
				Content: c,
				At:      current.Add(time.Duration(i) * p.stagger()),
				Batch:   len(out)/size + 1,
				Day:     day,
			})
		}
		idx = hi

		current = current.Add(interval)
		// Elapsed since the most recent daily window start decides whether
		// the next batch still fits today.
		recent := recentWindowStart(current, window.StartHour, loc)
		if current.Sub(recent) >= length {
			day++
			next := recent.In(loc).AddDate(0, 0, 1)
			current = time.Date(next.Year(), next.Month(), next.Day(), window.StartHour, 0, 0, 0, loc).UTC()
		}
	}
	return out, nil
}

// recentWindowStart returns the latest instant at startHour:00 (in loc)
// that is not after t.
func recentWindowStart(t time.Time, startHour int, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, startHour, 0, 0, 0, loc)
	if start.After(local) {
		start = start.AddDate(0, 0, -1)
	}
	return start.UTC()
}
