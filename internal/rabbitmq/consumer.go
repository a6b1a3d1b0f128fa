package rabbitmq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer owns its own broker connection and delivers messages from one
// queue with manual acknowledgement and a prefetch of one.
type Consumer struct {
	url   string
	queue string
	log   *zap.Logger
	cfg   settings

	mu   sync.Mutex
	conn Connection
	ch   Channel
}

func NewConsumer(url, queue string, log *zap.Logger, opts ...Option) (*Consumer, error) {
	if queue == "" {
		return nil, fmt.Errorf("%w: queue name is empty", ErrInvalidArgument)
	}
	if err := ValidateURL(url); err != nil {
		return nil, err
	}
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.consumerTag == "" {
		cfg.consumerTag = "order-worker-" + uuid.NewString()[:8]
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, queue: queue, log: log.Named("consumer"), cfg: cfg}, nil
}

// Start connects, declares the queue and begins consuming. There is no
// degraded mode: any failure here is returned to the caller.
func (c *Consumer) Start() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil, errors.New("rabbitmq: consumer already started")
	}

	conn, err := c.cfg.dial(c.url)
	if err != nil {
		return nil, classifyDial(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, classifyChannel("open channel", err)
	}
	if err := declareQueue(ch, c.queue); err != nil {
		_ = conn.Close()
		return nil, classifyChannel("declare queue", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, classifyChannel("set prefetch", err)
	}
	deliveries, err := ch.Consume(c.queue, c.cfg.consumerTag, false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, classifyChannel("consume", err)
	}
	c.conn, c.ch = conn, ch
	c.log.Info("consuming", zap.String("queue", c.queue), zap.String("consumer_tag", c.cfg.consumerTag))
	return deliveries, nil
}

// Stop asks the broker to stop delivering. Unacknowledged messages stay on
// the channel until acked or until Close.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.ch.IsClosed() {
		return nil
	}
	return c.ch.Cancel(c.cfg.consumerTag, false)
}

// Close releases the channel and connection. Any unacknowledged message is
// returned to the queue by the broker.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (c *Consumer) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}
