// Package channels keeps an in-memory snapshot of a tenant's active
// destinations so fan-out never reads the database mid-pass.
package channels

import (
	"context"
	"sync"
)

// Source is the persistence slice the cache reads from.
type Source interface {
	ActiveChannels(ctx context.Context, tenantID string) ([]string, error)
}

// Cache holds the active destination list for one tenant. Snapshot is
// cheap; Reload replaces the list atomically.
type Cache struct {
	src    Source
	tenant string

	mu   sync.RWMutex
	list []string
}

func New(src Source, tenantID string) *Cache {
	return &Cache{src: src, tenant: tenantID}
}

// Reload reads the active list from the source and swaps it in.
func (c *Cache) Reload(ctx context.Context) error {
	list, err := c.src.ActiveChannels(ctx, c.tenant)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current list; callers may mutate it.
func (c *Cache) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.list))
	copy(out, c.list)
	return out
}

// Invalidate drops the snapshot so the next Reload starts from empty.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.list = nil
	c.mu.Unlock()
}
