// Package consume runs the receive side of a subscription: one reader per delivery
// channel fanning out to a bounded number of concurrent handlers.
package consume

import (
	"context"

	"golang.org/x/sync/errgroup"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// Handler processes one delivery and is responsible for acknowledging it.
type Handler func(ctx context.Context, d cmed.Delivery)

// Run reads deliveries until the channel is closed, running at most limit handlers at
// once. Reading blocks while the limit is reached, so the broker-side prefetch is never
// exceeded. Run returns after every started handler has finished.
func Run(ctx context.Context, deliveries <-chan cmed.Delivery, limit int, handle Handler) {
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for d := range deliveries {
		g.Go(func() error {
			handle(ctx, d)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // handlers never return errors
}
