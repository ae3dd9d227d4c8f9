package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

const maxPersistBackoff = 5 * time.Second

// persistBackoff returns base * 2^retry, capped at maxPersistBackoff.
func persistBackoff(base time.Duration, retry int) time.Duration {
	if retry < 0 {
		return base
	}
	if retry > 30 {
		return maxPersistBackoff
	}
	d := base * time.Duration(1<<retry)
	if d > maxPersistBackoff || d <= 0 {
		return maxPersistBackoff
	}
	return d
}

// persist runs fn with a per-attempt timeout, retrying with exponential
// backoff. fn must be safe to repeat. After the last attempt the error
// wraps domain.ErrUnavailable.
func (c *Core) persist(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < c.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, ctx.Err())
			case <-time.After(persistBackoff(c.cfg.PersistBackoff, attempt-1)):
			}
		}

		actx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
		err = fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		c.log.Warn("persistence attempt failed",
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

// persistResult writes a committed pass in one repository transaction,
// so fills are never durable without the orders and deltas they moved.
func (c *Core) persistResult(ctx context.Context, res *MatchResult) error {
	return c.persist(ctx, "commit pass", func(ctx context.Context) error {
		return c.repo.CommitPass(ctx, res.Fills, res.Deltas, res.Orders)
	})
}
