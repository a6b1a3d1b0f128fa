package processing

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-messaging/internal/orders"
)

const DefaultFulfillmentDelay = 5 * time.Second

// Fulfiller performs the external side effects of an order.
type Fulfiller interface {
	Fulfill(ctx context.Context, ev orders.OrderPlacedEvent) error
}

// SimulatedFulfiller stands in for downstream fulfillment by waiting Delay.
type SimulatedFulfiller struct {
	Delay time.Duration
}

func (f SimulatedFulfiller) Fulfill(ctx context.Context, _ orders.OrderPlacedEvent) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FulfillerFunc adapts a function to Fulfiller.
type FulfillerFunc func(ctx context.Context, ev orders.OrderPlacedEvent) error

func (f FulfillerFunc) Fulfill(ctx context.Context, ev orders.OrderPlacedEvent) error { return f(ctx, ev) }
