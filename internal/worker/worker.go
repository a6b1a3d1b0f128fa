// Package worker runs the receive loop that feeds queued OrderPlaced events
// to the processor and settles each delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-messaging/internal/metrics"
	"github.com/ariefcatur/go-order-messaging/internal/orders"
	"github.com/ariefcatur/go-order-messaging/internal/retry"
)

const (
	DefaultGracePeriod = 30 * time.Second
	DefaultHeartbeat   = 30 * time.Second
)

var ErrDeliveriesClosed = errors.New("worker: delivery channel closed")

type Processor interface {
	Process(ctx context.Context, ev orders.OrderPlacedEvent) error
}

type Worker struct {
	proc      Processor
	tracker   *retry.Tracker
	metrics   *metrics.Collector
	log       *zap.Logger
	queue     string
	grace     time.Duration
	heartbeat time.Duration
	delay     bool
}

type Option func(*Worker)

// WithGracePeriod bounds how long an in-flight message may run after
// shutdown starts.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.grace = d
		}
	}
}

func WithHeartbeat(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.heartbeat = d
		}
	}
}

// WithRetryDelay makes the worker wait retry.Backoff(attempt) before
// requeueing a failed message.
func WithRetryDelay(on bool) Option {
	return func(w *Worker) { w.delay = on }
}

func New(proc Processor, tracker *retry.Tracker, m *metrics.Collector, log *zap.Logger, queue string, opts ...Option) *Worker {
	if tracker == nil {
		tracker = retry.NewTracker(retry.DefaultMaxAttempts)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		proc:      proc,
		tracker:   tracker,
		metrics:   m,
		log:       log.Named("worker").With(zap.String("queue", queue)),
		queue:     queue,
		grace:     DefaultGracePeriod,
		heartbeat: DefaultHeartbeat,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run handles one delivery at a time until ctx is cancelled. A message
// already being processed when ctx ends is allowed to finish within the
// grace period. Run returns ErrDeliveriesClosed if the broker stops
// delivering while ctx is still live.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	w.log.Info("worker started", zap.Int("max_attempts", w.tracker.Max()), zap.Duration("grace", w.grace))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopping", zap.Int64("processed", w.metrics.Processed()))
			return nil
		case <-ticker.C:
			w.logHeartbeat()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			if ctx.Err() != nil {
				// arrived after shutdown began; hand it back untouched
				if err := d.Nack(false, true); err != nil {
					w.log.Warn("requeue on shutdown", zap.Error(err))
				}
				return nil
			}
			w.handleWithGrace(ctx, d)
		}
	}
}

func (w *Worker) handleWithGrace(ctx context.Context, d amqp.Delivery) {
	pctx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		t := time.NewTimer(w.grace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			w.log.Warn("grace period elapsed, aborting in-flight message", zap.Duration("grace", w.grace))
			abort()
		}
	}()

	w.Handle(pctx, d)
}

// Handle decodes, processes and settles a single delivery.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	log := w.log.With(zap.String("message_id", d.MessageId), zap.Uint64("delivery_tag", d.DeliveryTag))

	ev, err := orders.DecodeOrderPlaced(d.Body)
	if err != nil {
		w.metrics.MessageMalformed()
		log.Error("malformed message dropped", zap.Error(err), zap.ByteString("body", d.Body))
		w.settle(log, d.Nack(false, false))
		return
	}

	id := d.MessageId
	if id == "" {
		id = ev.OrderID.String()
	}
	log = log.With(zap.String("order_id", ev.OrderID.String()))

	start := time.Now()
	err = w.process(ctx, ev)
	elapsed := time.Since(start)
	if err == nil {
		w.tracker.Clear(id)
		w.metrics.MessageProcessed(elapsed)
		log.Debug("message processed", zap.Duration("took", elapsed))
		w.settle(log, d.Ack(false))
		return
	}

	w.metrics.MessageFailed(elapsed)
	attempt, again := w.tracker.RecordFailure(id)
	if !again {
		w.metrics.MessageDeadLettered()
		log.Error("retries exhausted, dead-lettering",
			zap.Int("attempt", attempt), zap.Error(err), zap.ByteString("body", d.Body))
		w.settle(log, d.Nack(false, false))
		return
	}

	if w.delay {
		backoff := retry.Backoff(attempt)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	w.metrics.MessageRequeued()
	log.Warn("processing failed, requeueing", zap.Int("attempt", attempt), zap.Error(err))
	w.settle(log, d.Nack(false, true))
}

func (w *Worker) process(ctx context.Context, ev orders.OrderPlacedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.proc.Process(ctx, ev)
}

func (w *Worker) settle(log *zap.Logger, err error) {
	if err != nil {
		log.Error("settle delivery", zap.Error(err))
	}
}

func (w *Worker) logHeartbeat() {
	fields := []zap.Field{zap.Int64("processed", w.metrics.Processed())}
	if last := w.metrics.LastActivity(); !last.IsZero() {
		fields = append(fields, zap.Time("last_activity", last))
	}
	w.log.Info("worker heartbeat", fields...)
}
