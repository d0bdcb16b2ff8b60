package offline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/marketcache/observe"
)

// Run sweeps expired cache entries every Cache.SweepInterval and, when a
// queue is configured, ingests notifications. It blocks until ctx ends and
// returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.Config.Cache.SweepInterval > 0 {
		g.Go(func() error { return c.sweepLoop(ctx, c.Config.Cache.SweepInterval) })
	}
	if c.ingester != nil {
		g.Go(func() error { return c.ingester.Run(ctx, c.Config.Notify.PollInterval) })
	}
	return g.Wait()
}

// Sweep removes expired cache entries once.
func (c *Client) Sweep(ctx context.Context) (int, error) {
	var removed int
	op := observe.Op{Component: "cache", Name: "sweep"}
	err := c.Middleware.Run(ctx, op, func(ctx context.Context) error {
		n, err := c.Cache.ClearExpired(ctx)
		removed = n
		return err
	})
	return removed, err
}

func (c *Client) sweepLoop(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			// Failures are logged by the middleware; the next tick retries.
			_, _ = c.Sweep(ctx)
		}
	}
}
