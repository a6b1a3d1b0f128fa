package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-messaging/internal/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends JSON events to durable queues with publisher confirms.
// The connection is opened on first use and re-opened when found closed.
// Publish calls are serialized; the channel and its confirm stream are
// owned by whoever holds mu.
type Publisher struct {
	url        string
	production bool
	log        *zap.Logger
	metrics    *metrics.Collector
	cfg        settings

	mu     sync.Mutex
	closed bool

	connMu   sync.RWMutex
	conn     Connection
	ch       Channel
	confirms chan amqp.Confirmation
}

// NewPublisher does not dial. A URL that can never work is rejected here.
func NewPublisher(url string, production bool, log *zap.Logger, m *metrics.Collector, opts ...Option) (*Publisher, error) {
	if err := ValidateURL(url); err != nil {
		return nil, err
	}
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Publisher{
		url:        url,
		production: production,
		log:        log.Named("publisher"),
		metrics:    m,
		cfg:        cfg,
	}, nil
}

// Publish serializes event and blocks until the broker confirms it.
// When the broker stays unreachable after every retry the message is
// logged and dropped, and Publish returns nil.
func (p *Publisher) Publish(ctx context.Context, event any, queue string) error {
	if isNil(event) {
		return fmt.Errorf("%w: event is nil", ErrInvalidArgument)
	}
	if queue == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidArgument)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: encode event: %w", ErrInvalidArgument, err)
	}
	msg := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		MessageId:       uuid.NewString(),
		Body:            body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	log := p.log.With(zap.String("message_id", msg.MessageId), zap.String("queue", queue))
	delay := p.cfg.retryDelay
	attempts := 0
	for {
		attempts++
		msg.Timestamp = time.Now().UTC()
		err = p.publishOnce(ctx, queue, msg)
		if err == nil {
			p.metrics.Published(queue, metrics.OutcomeConfirmed)
			log.Debug("message published", zap.Int("attempt", attempts))
			return nil
		}
		if !p.production && isDialFailure(err) {
			p.metrics.Published(queue, metrics.OutcomeDropped)
			log.Warn("broker not available, message dropped", zap.Error(err), zap.ByteString("body", body))
			return nil
		}
		if !retryable(err) || attempts > p.cfg.maxRetries {
			break
		}
		log.Warn("publish attempt failed, retrying", zap.Int("attempt", attempts), zap.Duration("backoff", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
		delay *= 2
	}

	if errors.Is(err, ErrBrokerUnreachable) {
		p.metrics.Published(queue, metrics.OutcomeDropped)
		log.Error("broker unreachable, message dropped",
			zap.Int("attempts", attempts), zap.Error(err), zap.ByteString("body", body))
		return nil
	}
	p.metrics.Published(queue, metrics.OutcomeFailed)
	log.Error("publish failed", zap.Int("attempts", attempts), zap.Error(err))
	return fmt.Errorf("%w after %d attempt(s): %w", ErrPublishFailed, attempts, err)
}

func isDialFailure(err error) bool {
	return errors.Is(err, ErrBrokerUnreachable) || errors.Is(err, ErrBrokerConfig)
}

func retryable(err error) bool {
	return errors.Is(err, ErrBrokerUnreachable) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, ErrConfirmTimeout)
}

func (p *Publisher) publishOnce(ctx context.Context, queue string, msg amqp.Publishing) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}
	if err := declareQueue(p.ch, queue); err != nil {
		if !isPreconditionFailed(err) {
			p.resetChannel()
			return classifyChannel("declare queue", err)
		}
		// The queue exists with other arguments. The server closed the
		// channel; publish to the existing queue on a fresh one.
		p.log.Warn("queue exists with different arguments", zap.String("queue", queue), zap.Error(err))
		p.resetChannel()
		if err := p.ensureChannel(); err != nil {
			return err
		}
	}

	seq := p.ch.GetNextPublishSeqNo()
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.confirmTimeout)
	defer cancel()
	if err := p.ch.PublishWithContext(pubCtx, "", queue, false, false, msg); err != nil {
		p.resetChannel()
		return classifyChannel("publish", err)
	}
	return p.waitConfirm(pubCtx, seq)
}

func (p *Publisher) waitConfirm(ctx context.Context, seq uint64) error {
	for {
		select {
		case c, ok := <-p.confirms:
			if !ok {
				p.resetChannel()
				return fmt.Errorf("%w: confirm stream closed", ErrConnectionClosed)
			}
			if c.DeliveryTag < seq {
				continue // stale confirm from an earlier timed-out publish
			}
			if !c.Ack {
				return fmt.Errorf("%w: delivery tag %d", ErrPublishNacked, c.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			// Confirms for this channel can no longer be matched reliably.
			p.resetChannel()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: delivery tag %d", ErrConfirmTimeout, seq)
			}
			return ctx.Err()
		}
	}
}

func (p *Publisher) ensureChannel() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		p.closeChannelLocked()
		if p.conn != nil {
			_ = p.conn.Close()
			p.conn = nil
		}
		conn, err := p.cfg.dial(p.url)
		if err != nil {
			return classifyDial(err)
		}
		p.conn = conn
		p.log.Info("connected to broker")
	}
	if p.ch == nil || p.ch.IsClosed() {
		p.closeChannelLocked()
		ch, err := p.conn.Channel()
		if err != nil {
			return classifyChannel("open channel", err)
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return classifyChannel("enable confirms", err)
		}
		p.ch = ch
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}
	return nil
}

func (p *Publisher) resetChannel() {
	p.connMu.Lock()
	p.closeChannelLocked()
	p.connMu.Unlock()
}

func (p *Publisher) closeChannelLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
}

// IsHealthy reports whether both the connection and the channel are open.
// It does not wait behind an in-flight publish.
func (p *Publisher) IsHealthy() bool {
	p.connMu.RLock()
	defer p.connMu.RUnlock()
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

// Close waits for an in-flight publish and releases the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.closeChannelLocked()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// isNil also catches typed nils, which would otherwise encode as "null".
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
