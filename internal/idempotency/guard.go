// Package idempotency deduplicates order submissions by their
// (account, client order ID) key.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

// OrderFinder resolves a key the guard no longer holds in memory, for
// example after a restart.
type OrderFinder interface {
	FindOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*domain.Order, error)
}

type key struct {
	accountID     string
	clientOrderID string
}

type entry struct {
	done        chan struct{}
	ack         domain.Ack
	abandoned   bool
	completedAt time.Time
}

// Guard hands out at most one claim per key. Every other caller with the
// same key waits for the claim holder and receives its acknowledgment.
type Guard struct {
	mu      sync.Mutex
	entries map[key]*entry
	ttl     time.Duration
	finder  OrderFinder
	now     func() time.Time
}

// NewGuard creates a Guard that keeps completed results for ttl. finder
// may be nil.
func NewGuard(ttl time.Duration, finder OrderFinder) *Guard {
	return &Guard{
		entries: make(map[key]*entry),
		ttl:     ttl,
		finder:  finder,
		now:     time.Now,
	}
}

// Claim is the exclusive right to process a fresh submission. The holder
// must call exactly one of Complete or Abandon.
type Claim struct {
	g    *Guard
	key  key
	e    *entry
	once sync.Once
}

// CheckAndReserve returns a non-nil Claim when the key is fresh. For a
// duplicate it returns a nil Claim and the acknowledgment of the first
// submission, waiting for that submission to finish if necessary.
func (g *Guard) CheckAndReserve(ctx context.Context, accountID, clientOrderID string) (*Claim, domain.Ack, error) {
	k := key{accountID, clientOrderID}
	for {
		g.mu.Lock()
		e, ok := g.entries[k]
		if !ok {
			e = &entry{done: make(chan struct{})}
			g.entries[k] = e
			g.mu.Unlock()
			return g.claimOrRecover(ctx, k, e)
		}
		g.mu.Unlock()

		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, domain.Ack{}, ctx.Err()
		}
		if !e.abandoned {
			return nil, e.ack, nil
		}
		// The holder gave up without changing state; compete again.
	}
}

// claimOrRecover checks the repository for a submission the guard has
// forgotten. The new entry is already installed, so concurrent callers
// wait on it while the lookup runs.
func (g *Guard) claimOrRecover(ctx context.Context, k key, e *entry) (*Claim, domain.Ack, error) {
	c := &Claim{g: g, key: k, e: e}
	if g.finder == nil {
		return c, domain.Ack{}, nil
	}

	o, err := g.finder.FindOrderByClientID(ctx, k.accountID, k.clientOrderID)
	switch {
	case err == nil:
		ack := domain.AckFor(o)
		c.Complete(ack)
		return nil, ack, nil
	case errors.Is(err, domain.ErrOrderNotFound):
		return c, domain.Ack{}, nil
	default:
		c.Abandon()
		return nil, domain.Ack{}, err
	}
}

// Complete records the acknowledgment and wakes every waiting duplicate.
func (c *Claim) Complete(ack domain.Ack) {
	c.once.Do(func() {
		c.g.mu.Lock()
		c.e.ack = ack
		c.e.completedAt = c.g.now()
		c.g.mu.Unlock()
		close(c.e.done)
	})
}

// Abandon drops the claim without a result, letting the next submission
// with the same key start over. Use it only when nothing was mutated.
func (c *Claim) Abandon() {
	c.once.Do(func() {
		c.g.mu.Lock()
		c.e.abandoned = true
		if c.g.entries[c.key] == c.e {
			delete(c.g.entries, c.key)
		}
		c.g.mu.Unlock()
		close(c.e.done)
	})
}

// Sweep forgets completed results older than the TTL and reports how
// many were removed. Pending claims are never swept.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for k, e := range g.entries {
		if e.completedAt.IsZero() {
			continue
		}
		if now.Sub(e.completedAt) >= g.ttl {
			delete(g.entries, k)
			removed++
		}
	}
	return removed
}

// Start sweeps every interval until ctx is cancelled.
func (g *Guard) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				g.Sweep(t)
			}
		}
	}()
}

// Len returns the number of keys currently held.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
