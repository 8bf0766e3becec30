package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/openindexlabs/ledgerdex/internal/domain"
)

// RecordsCache holds a wholesale snapshot of the indexed record set. The
// snapshot is rebuilt in full and swapped atomically; readers never observe
// a partially updated state.
type RecordsCache struct {
	records RecordStore
	ttl     time.Duration

	mu        sync.RWMutex
	snapshot  []domain.Record
	byDID     map[string]*domain.Record
	refreshed time.Time
}

func NewRecordsCache(records RecordStore, ttl time.Duration) *RecordsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RecordsCache{records: records, ttl: ttl}
}

// Get returns the current snapshot, re-reading the store when the snapshot
// is older than the TTL or forceRefresh is set.
func (c *RecordsCache) Get(ctx context.Context, forceRefresh bool) ([]domain.Record, error) {
	c.mu.RLock()
	fresh := !forceRefresh && c.snapshot != nil && time.Since(c.refreshed) < c.ttl
	snapshot := c.snapshot
	c.mu.RUnlock()

	if fresh {
		return snapshot, nil
	}
	return c.Refresh(ctx)
}

// Lookup returns the cached record for a DID without triggering a refresh.
func (c *RecordsCache) Lookup(did string) (domain.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byDID[did]
	if !ok {
		return domain.Record{}, false
	}
	return *rec, true
}

// Refresh performs the wholesale re-read and atomic swap.
func (c *RecordsCache) Refresh(ctx context.Context) ([]domain.Record, error) {
	recs, err := c.records.List(ctx)
	if err != nil {
		return nil, err
	}

	byDID := make(map[string]*domain.Record, len(recs))
	for i := range recs {
		byDID[recs[i].DID] = &recs[i]
	}

	c.mu.Lock()
	c.snapshot = recs
	c.byDID = byDID
	c.refreshed = time.Now()
	c.mu.Unlock()

	return recs, nil
}

// Age reports how old the current snapshot is.
func (c *RecordsCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refreshed.IsZero() {
		return -1
	}
	return time.Since(c.refreshed)
}
