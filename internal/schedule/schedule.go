// Package schedule turns planned entries into persisted posts. It is the
// write-side surface for a tenant's queue; delivery is the poller's job.
package schedule

import (
	"context"
	"time"

	"relaycast/internal/plan"
	"relaycast/internal/store"
	"relaycast/internal/transport"
)

// Inserter is the store slice the service writes through. ActiveChannels
// is read once per call so each post carries the target count it was
// scheduled against.
type Inserter interface {
	InsertPost(ctx context.Context, p store.Post) (int64, error)
	ActiveChannels(ctx context.Context, tenantID string) ([]string, error)
}

type Service struct {
	st     Inserter
	tenant string
	pl     plan.Planner
}

func New(st Inserter, tenantID string, pl plan.Planner) *Service {
	return &Service{st: st, tenant: tenantID, pl: pl}
}

// Single enqueues one post at an exact instant.
func (s *Service) Single(ctx context.Context, msg transport.Message, at time.Time) (int64, error) {
	ids, err := s.enqueue(ctx, []plan.Entry{plan.Single(msg, at)})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SingleAfter enqueues one post a fixed delay from now.
func (s *Service) SingleAfter(ctx context.Context, msg transport.Message, delay time.Duration) (int64, error) {
	return s.Single(ctx, msg, time.Now().UTC().Add(delay))
}

// Bulk plans items evenly over total and persists them.
func (s *Service) Bulk(ctx context.Context, items []transport.Message, start time.Time, total time.Duration) ([]int64, error) {
	entries, err := s.pl.Bulk(items, start, total)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, entries)
}

// Batch plans items in evenly spaced batches and persists them.
func (s *Service) Batch(ctx context.Context, items []transport.Message, start time.Time, total time.Duration, size int) ([]int64, error) {
	entries, err := s.pl.Batch(items, start, total, size)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, entries)
}

// AutoContinuous extends an unbounded batch series. fromBatch is the
// number of batches already planned, so appended content continues the
// cadence instead of restarting it.
func (s *Service) AutoContinuous(ctx context.Context, items []transport.Message, start time.Time, interval time.Duration, size, fromBatch int) ([]int64, error) {
	entries, err := s.pl.AutoContinuous(items, start, interval, size, fromBatch)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, entries)
}

// MultiDay partitions items across daily windows and persists them,
// returning sizing advice alongside the ids.
func (s *Service) MultiDay(ctx context.Context, items []transport.Message, startDay time.Time, window plan.DayWindow, size, days int) ([]int64, plan.Advice, error) {
	entries, err := s.pl.MultiDay(items, startDay, window, size, days)
	if err != nil {
		return nil, plan.Advice{}, err
	}
	if days == 0 {
		days = (len(items) + size - 1) / size
	}
	advice := plan.SizeAdvice(len(items), size, days)
	ids, err := s.enqueue(ctx, entries)
	return ids, advice, err
}

// ExAutoContinuous walks a fixed interval inside a daily window and
// persists the result.
func (s *Service) ExAutoContinuous(ctx context.Context, items []transport.Message, first time.Time, interval time.Duration, size int, window plan.DayWindow) ([]int64, error) {
	entries, err := s.pl.ExAutoContinuous(items, first, interval, size, window)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, entries)
}

func (s *Service) enqueue(ctx context.Context, entries []plan.Entry) ([]int64, error) {
	active, err := s.st.ActiveChannels(ctx, s.tenant)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := s.st.InsertPost(ctx, store.Post{
			TenantID: s.tenant,
			Content:  e.Content,
			At:       e.At,
			Batch:    e.Batch,
			Day:      e.Day,
			Targets:  len(active),
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
