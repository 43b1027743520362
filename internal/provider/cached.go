package provider

import (
	"context"
	"sync"
	"time"

	"github.com/srg/gattd/internal/gatt"
)

// Cached refreshes its source at most once per TTL. While a refresh is running, other
// readers get the previous value instead of waiting; only the first read ever blocks.
type Cached struct {
	source gatt.ValueProvider
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	value   []byte
	fetched time.Time
	valid   bool

	flight sync.Mutex
}

// NewCached wraps source with a TTL cache.
func NewCached(source gatt.ValueProvider, ttl time.Duration) *Cached {
	return &Cached{source: source, ttl: ttl, now: time.Now}
}

func (c *Cached) snapshot() (value []byte, fresh, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return nil, false, false
	}
	return c.value, c.now().Sub(c.fetched) < c.ttl, true
}

// Value implements gatt.ValueProvider.
func (c *Cached) Value(ctx context.Context) ([]byte, error) {
	value, fresh, valid := c.snapshot()
	if fresh {
		return value, nil
	}

	if valid {
		if !c.flight.TryLock() {
			return value, nil
		}
	} else {
		c.flight.Lock()
	}
	defer c.flight.Unlock()

	// Another reader may have refreshed while this one waited.
	if value, fresh, _ = c.snapshot(); fresh {
		return value, nil
	}

	fetched, err := c.source(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.value = fetched
	c.fetched = c.now()
	c.valid = true
	c.mu.Unlock()
	return fetched, nil
}

// Invalidate forces the next read to refresh.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = time.Time{}
}
