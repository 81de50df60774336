package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/store"
)

// CatalogCache is the L1 layer of the delivery read path. It keeps, per
// account, the account record and the live notification list in an S3-FIFO
// cache (otter) bounded by capacity, with a TTL as the consistency backstop
// when an invalidation message is lost.
//
// The cached list holds candidates, not live notifications. Callers must
// apply the activation predicate per request, and must treat returned
// notifications as read-only.
//
// Every account carries a generation bumped by Invalidate. A load only lands
// in the cache if the generation did not move while it ran, so a read that
// started before an invalidation cannot re-install the old catalog.
type CatalogCache struct {
	next        store.CatalogReader
	accounts    otter.Cache[string, *store.Account]
	catalogs    otter.Cache[string, []*store.Notification]
	generations *xsync.Map[string, uint64]
}

var _ store.CatalogReader = (*CatalogCache)(nil)

// NewCatalogCache wraps next with an in-process cache.
func NewCatalogCache(next store.CatalogReader, capacity int, ttl time.Duration) (*CatalogCache, error) {
	accounts, err := otter.MustBuilder[string, *store.Account](capacity).
		DeletionListener(func(_ string, _ *store.Account, cause otter.DeletionCause) {
			if cause == otter.Size {
				observability.CatalogCacheEvictions.Inc()
			}
		}).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build account cache: %w", err)
	}

	catalogs, err := otter.MustBuilder[string, []*store.Notification](capacity).
		DeletionListener(func(_ string, _ []*store.Notification, cause otter.DeletionCause) {
			if cause == otter.Size {
				observability.CatalogCacheEvictions.Inc()
			}
		}).
		WithTTL(ttl).
		Build()
	if err != nil {
		accounts.Close()
		return nil, fmt.Errorf("failed to build catalog cache: %w", err)
	}

	return &CatalogCache{
		next:        next,
		accounts:    accounts,
		catalogs:    catalogs,
		generations: xsync.NewMap[string, uint64](),
	}, nil
}

// GetAccount implements store.CatalogReader. Lookups that fail are not cached.
func (c *CatalogCache) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	if acc, ok := c.accounts.Get(id); ok {
		observability.CatalogCacheHits.Inc()
		return acc, nil
	}
	observability.CatalogCacheMisses.Inc()

	gen, _ := c.generations.Load(id)
	acc, err := c.next.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	c.storeIfCurrent(id, gen, func() { c.accounts.Set(id, acc) })
	return acc, nil
}

// ListCandidateNotifications implements store.CatalogReader.
func (c *CatalogCache) ListCandidateNotifications(ctx context.Context, accountID string, now time.Time) ([]*store.Notification, error) {
	if list, ok := c.catalogs.Get(accountID); ok {
		observability.CatalogCacheHits.Inc()
		return list, nil
	}
	observability.CatalogCacheMisses.Inc()

	gen, _ := c.generations.Load(accountID)
	list, err := c.next.ListCandidateNotifications(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	c.storeIfCurrent(accountID, gen, func() { c.catalogs.Set(accountID, list) })
	return list, nil
}

// storeIfCurrent runs set under the generation lock of accountID, unless an
// invalidation happened since gen was read. The stale result is still
// returned to its caller, it is just not cached.
func (c *CatalogCache) storeIfCurrent(accountID string, gen uint64, set func()) {
	c.generations.Compute(accountID, func(current uint64, _ bool) (uint64, xsync.ComputeOp) {
		if current == gen {
			set()
		} else {
			observability.CatalogCacheStaleLoads.Inc()
		}
		return current, xsync.CancelOp
	})
}

// GetNotification implements store.CatalogReader. It is not cached: the track
// path must see deletions immediately.
func (c *CatalogCache) GetNotification(ctx context.Context, accountID, id string) (*store.Notification, error) {
	return c.next.GetNotification(ctx, accountID, id)
}

// Invalidate drops everything cached for an account and discards the result
// of any load still in flight for it.
func (c *CatalogCache) Invalidate(accountID string) {
	c.generations.Compute(accountID, func(current uint64, _ bool) (uint64, xsync.ComputeOp) {
		c.accounts.Delete(accountID)
		c.catalogs.Delete(accountID)
		return current + 1, xsync.UpdateOp
	})
}

// Size returns the number of cached account catalogs.
func (c *CatalogCache) Size() int {
	return c.catalogs.Size()
}

// RunMetricsCollector publishes the cache size every interval until ctx is cancelled.
func (c *CatalogCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.CatalogCacheUsage.Set(float64(c.Size()))
		}
	}
}

// Close stops otter's background goroutines.
func (c *CatalogCache) Close() {
	c.accounts.Close()
	c.catalogs.Close()
}
