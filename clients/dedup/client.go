package dedup

import (
	"context"
	"sync"
	"time"
)

// Client is the idempotency store guarding against duplicate trigger delivery
//go:generate mockgen -package=dedup -destination ./mock.go -source=client.go
type Client interface {
	// CheckAndInsert atomically claims the dedup key for buildRequestID. When the
	// key is already held by a non-expired entry it returns the existing request
	// id and inserted=false; concurrent deliveries of the same event see exactly
	// one inserted=true.
	CheckAndInsert(ctx context.Context, dedupKey, buildRequestID string) (existingID string, inserted bool, err error)
}

type entry struct {
	buildRequestID string
	insertedAt     time.Time
}

// NewInMemoryClient returns a dedup.Client backed by process memory; entries
// expire after ttl so a re-delivered event eventually schedules a fresh build
func NewInMemoryClient(ttl time.Duration) Client {
	return &inMemoryClient{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

type inMemoryClient struct {
	mutex   sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func (c *inMemoryClient) CheckAndInsert(ctx context.Context, dedupKey, buildRequestID string) (existingID string, inserted bool, err error) {

	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if existing, ok := c.entries[dedupKey]; ok && now.Sub(existing.insertedAt) < c.ttl {
		return existing.buildRequestID, false, nil
	}

	c.entries[dedupKey] = entry{
		buildRequestID: buildRequestID,
		insertedAt:     now,
	}

	// opportunistically drop expired keys so the map doesn't grow unbounded
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}

	return buildRequestID, true, nil
}
