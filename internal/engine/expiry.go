package engine

import (
	"context"
	"sort"
	"sync"
	"time"
)

type expiryEntry struct {
	OrderID   string
	ExpiresAt time.Time
}

// ExpiryManager tracks resting DAY orders sorted by expiry time and
// periodically hands the overdue ones to an expire callback. It never
// touches books or accounts itself: the callback routes the expiry
// through the order's instrument lane like any other cancellation.
type ExpiryManager struct {
	interval time.Duration
	ttl      time.Duration
	expire   func(orderID string)
	active   []expiryEntry // sorted by ExpiresAt ASC
	mu       sync.Mutex    // protects active
}

// NewExpiryManager creates an ExpiryManager that expires orders ttl after
// submission, checking every interval.
func NewExpiryManager(interval, ttl time.Duration, expire func(orderID string)) *ExpiryManager {
	return &ExpiryManager{
		interval: interval,
		ttl:      ttl,
		expire:   expire,
		active:   make([]expiryEntry, 0),
	}
}

// Add starts tracking an order submitted at submittedAt. Adding an order
// that is already tracked is a no-op.
func (e *ExpiryManager) Add(orderID string, submittedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.active {
		if a.OrderID == orderID {
			return
		}
	}
	expiresAt := submittedAt.Add(e.ttl)
	// Binary search for the insertion point.
	idx := sort.Search(len(e.active), func(i int) bool {
		return e.active[i].ExpiresAt.After(expiresAt)
	})
	e.active = append(e.active, expiryEntry{})
	copy(e.active[idx+1:], e.active[idx:])
	e.active[idx] = expiryEntry{OrderID: orderID, ExpiresAt: expiresAt}
}

// Remove stops tracking an order.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, a := range e.active {
		if a.OrderID == orderID {
			e.active = append(e.active[:i], e.active[i+1:]...)
			return
		}
	}
}

// Run ticks at the configured interval and expires overdue orders until
// ctx is cancelled.
func (e *ExpiryManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			e.tick(t)
		}
	}
}

// tick pops every entry with ExpiresAt <= now and expires it outside
// the lock.
func (e *ExpiryManager) tick(now time.Time) {
	e.mu.Lock()
	cutoff := 0
	for cutoff < len(e.active) && !e.active[cutoff].ExpiresAt.After(now) {
		cutoff++
	}
	due := make([]expiryEntry, cutoff)
	copy(due, e.active[:cutoff])
	e.active = e.active[cutoff:]
	e.mu.Unlock()

	for _, d := range due {
		e.expire(d.OrderID)
	}
}

// ActiveOrderCount returns the number of orders currently tracked.
func (e *ExpiryManager) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
