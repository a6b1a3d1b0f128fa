// Package processing drives an order through its lifecycle once its
// OrderPlaced event has been received.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-messaging/internal/orders"
	"github.com/ariefcatur/go-order-messaging/internal/redisx"
)

const recoveryTimeout = 5 * time.Second

// Processor is safe to call more than once per order: the persisted status
// decides what is left to do.
type Processor struct {
	repo      orders.Repository
	cache     orders.Cache
	fulfiller Fulfiller
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
}

// NewProcessor wires the collaborators. notifier may be nil.
func NewProcessor(repo orders.Repository, cache orders.Cache, f Fulfiller, n Notifier, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		repo:      repo,
		cache:     cache,
		fulfiller: f,
		notifier:  n,
		log:       log.Named("processor"),
		now:       time.Now,
	}
}

// Process returns an error only when the message should be delivered again.
func (p *Processor) Process(ctx context.Context, ev orders.OrderPlacedEvent) error {
	log := p.log.With(zap.String("order_id", ev.OrderID.String()))

	o, err := p.repo.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn("order not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", ev.OrderID, err)
	}
	if o.Status.Handled() {
		log.Info("order already handled", zap.String("status", string(o.Status)))
		return nil
	}

	switch o.Status {
	case orders.StatusPending:
		err := p.start(ctx, o)
		if errors.Is(err, orders.ErrStaleStatus) {
			log.Info("order claimed by another delivery", zap.Error(err))
			return nil
		}
		if err != nil {
			return p.fail(ctx, ev, err)
		}
		log.Info("order processing started")
	case orders.StatusProcessing:
		log.Info("resuming order left in processing")
	}

	if err := p.fulfiller.Fulfill(ctx, ev); err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: the order stays Processing and the
			// redelivery resumes it.
			log.Warn("fulfillment interrupted, leaving order for redelivery", zap.Error(err))
			return fmt.Errorf("process order %s: %w", ev.OrderID, err)
		}
		return p.fail(ctx, ev, fmt.Errorf("fulfillment: %w", err))
	}

	processedAt := p.now().UTC()
	err = p.complete(ctx, o, processedAt)
	if errors.Is(err, orders.ErrStaleStatus) {
		log.Info("order completed by another delivery", zap.Error(err))
		return nil
	}
	if err != nil {
		return p.fail(ctx, ev, err)
	}
	log.Info("order processed")

	marker := orders.ProcessedMarker{OrderID: o.ID.String(), ProcessedAt: processedAt, Status: orders.StatusProcessed}
	if err := p.cache.Set(ctx, redisx.OrderProcessedKey(o.ID.String()), marker, redisx.TTLOrderProcessed); err != nil {
		log.Warn("cache processed marker", zap.Error(err))
	}

	p.notify(ctx, o, processedAt, log)
	return nil
}

func (p *Processor) start(ctx context.Context, o *orders.Order) error {
	return p.inUnit(ctx, func(uow orders.UnitOfWork) error {
		now := p.now()
		from := o.Status
		if err := o.Transition(orders.StatusProcessing, now); err != nil {
			return err
		}
		if err := uow.SaveOrder(ctx, o, from); err != nil {
			return err
		}
		return uow.AppendLog(ctx, orders.NewLogEntry(o.ID, orders.LogProcessing, "Order processing started", now))
	})
}

func (p *Processor) complete(ctx context.Context, o *orders.Order, at time.Time) error {
	return p.inUnit(ctx, func(uow orders.UnitOfWork) error {
		from := o.Status
		if err := o.Transition(orders.StatusProcessed, at); err != nil {
			return err
		}
		if err := uow.SaveOrder(ctx, o, from); err != nil {
			return err
		}
		msg := fmt.Sprintf("Order processed successfully at %s", at.Format(time.RFC3339))
		return uow.AppendLog(ctx, orders.NewLogEntry(o.ID, orders.LogProcessed, msg, at))
	})
}

// notify is best effort; nothing here changes the outcome of Process.
func (p *Processor) notify(ctx context.Context, o *orders.Order, at time.Time, log *zap.Logger) {
	msg := fmt.Sprintf("Notification sent: Your order %s has been processed successfully!", o.ID)
	err := p.inUnit(ctx, func(uow orders.UnitOfWork) error {
		return uow.AppendLog(ctx, orders.NewLogEntry(o.ID, orders.LogNotification, msg, p.now()))
	})
	if err != nil {
		log.Warn("record notification", zap.Error(err))
	}
	if p.notifier == nil {
		return
	}
	if err := p.notifier.OrderProcessed(ctx, o, msg, at); err != nil {
		log.Warn("publish notification", zap.Error(err))
	}
}

// fail moves the order to Cancelled with an audit entry and returns cause.
// A failed recovery write is logged and left for an operator.
func (p *Processor) fail(ctx context.Context, ev orders.OrderPlacedEvent, cause error) error {
	log := p.log.With(zap.String("order_id", ev.OrderID.String()))
	log.Error("order processing failed", zap.Error(cause))

	// Recovery still runs when the caller's context is being torn down.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recoveryTimeout)
	defer cancel()

	err := func() error {
		o, err := p.repo.GetOrder(rctx, ev.OrderID)
		if err != nil {
			return err
		}
		return p.inUnit(rctx, func(uow orders.UnitOfWork) error {
			now := p.now()
			from := o.Status
			if err := o.Transition(orders.StatusCancelled, now); err != nil {
				return err
			}
			if err := uow.SaveOrder(rctx, o, from); err != nil {
				return err
			}
			msg := fmt.Sprintf("Order processing failed: %s", cause)
			return uow.AppendLog(rctx, orders.NewLogEntry(o.ID, orders.LogError, msg, now))
		})
	}()
	if err != nil {
		log.Error("cancel order after failure", zap.NamedError("cause", cause), zap.Error(err))
	}
	return fmt.Errorf("process order %s: %w", ev.OrderID, cause)
}

func (p *Processor) inUnit(ctx context.Context, fn func(orders.UnitOfWork) error) error {
	uow, err := p.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()
	if err := fn(uow); err != nil {
		return err
	}
	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
