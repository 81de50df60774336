package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps windows in process. Each replica enforces its own limit.
type MemoryLimiter struct {
	windows *xsync.Map[string, window]
	limit   int
	size    time.Duration
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(limit int, size time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows: xsync.NewMap[string, window](),
		limit:   limit,
		size:    size,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	w, _ := l.windows.Compute(key, func(old window, loaded bool) (window, xsync.ComputeOp) {
		if !loaded || !now.Before(old.resetAt) {
			return window{count: 1, resetAt: now.Add(l.size)}, xsync.UpdateOp
		}
		old.count++
		return old, xsync.UpdateOp
	})

	return Result{
		Allowed:   w.count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining(l.limit, w.count),
		ResetAt:   w.resetAt,
	}, nil
}

// Prune drops expired windows and returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	now := l.now()
	removed := 0
	l.windows.Range(func(key string, w window) bool {
		if !now.Before(w.resetAt) {
			l.windows.Compute(key, func(cur window, loaded bool) (window, xsync.ComputeOp) {
				if loaded && !now.Before(cur.resetAt) {
					removed++
					return cur, xsync.DeleteOp
				}
				return cur, xsync.CancelOp
			})
		}
		return true
	})
	return removed
}

// RunJanitor prunes expired windows every interval until ctx is cancelled.
func (l *MemoryLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
