package rabbitmq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker stands in for a RabbitMQ server behind the Connection and
// Channel interfaces.
type fakeBroker struct {
	mu sync.Mutex

	dialErr     error
	dials       int
	channels    int
	conns       []*fakeConn
	queues      map[string]amqp.Table
	declares    int
	declareErr  error // returned once, closes the channel like the server does
	publishErrs []error
	published   []published
	nack        bool
	noConfirm   bool
	qos         int
	consumeTag  string
	autoAck     bool
	cancelled   []string
	deliveries  chan amqp.Delivery

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

type published struct {
	key string
	msg amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: map[string]amqp.Table{}}
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	c := &fakeConn{b: b}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

type fakeConn struct {
	b      *fakeBroker
	closed atomic.Bool
}

func (c *fakeConn) Channel() (Channel, error) {
	if c.closed.Load() {
		return nil, amqp.ErrClosed
	}
	c.b.mu.Lock()
	c.b.channels++
	c.b.mu.Unlock()
	return &fakeChannel{b: c.b, conn: c, next: 1}, nil
}

func (c *fakeConn) IsClosed() bool { return c.closed.Load() }

func (c *fakeConn) Close() error {
	if c.closed.Swap(true) {
		return amqp.ErrClosed
	}
	return nil
}

type fakeChannel struct {
	b    *fakeBroker
	conn *fakeConn

	mu      sync.Mutex
	closed  bool
	confirm bool
	next    uint64
	notify  chan amqp.Confirmation
}

func (ch *fakeChannel) Confirm(bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.confirm = true
	return nil
}

func (ch *fakeChannel) Qos(prefetch, _ int, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.qos = prefetch
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, args amqp.Table) (amqp.Queue, error) {
	if ch.IsClosed() {
		return amqp.Queue{}, amqp.ErrClosed
	}
	ch.b.mu.Lock()
	if err := ch.b.declareErr; err != nil {
		ch.b.declareErr = nil
		ch.b.mu.Unlock()
		_ = ch.Close()
		return amqp.Queue{}, err
	}
	ch.b.declares++
	if durable && !autoDelete && !exclusive {
		ch.b.queues[name] = args
	}
	ch.b.mu.Unlock()
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	n := ch.b.inFlight.Add(1)
	defer ch.b.inFlight.Add(-1)
	for {
		m := ch.b.maxInFlight.Load()
		if n <= m || ch.b.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	if ch.IsClosed() {
		return amqp.ErrClosed
	}
	ch.b.mu.Lock()
	if len(ch.b.publishErrs) > 0 {
		err := ch.b.publishErrs[0]
		ch.b.publishErrs = ch.b.publishErrs[1:]
		ch.b.mu.Unlock()
		return err
	}
	nack, noConfirm := ch.b.nack, ch.b.noConfirm
	if !nack {
		ch.b.published = append(ch.b.published, published{key: key, msg: msg})
	}
	ch.b.mu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	tag := ch.next
	ch.next++
	if ch.confirm && ch.notify != nil && !noConfirm {
		ch.notify <- amqp.Confirmation{DeliveryTag: tag, Ack: !nack}
	}
	return nil
}

func (ch *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.notify = c
	return c
}

func (ch *fakeChannel) GetNextPublishSeqNo() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.next
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.consumeTag = consumer
	ch.b.autoAck = autoAck
	ch.b.deliveries = make(chan amqp.Delivery)
	return ch.b.deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	ch.b.cancelled = append(ch.b.cancelled, consumer)
	if ch.b.deliveries != nil {
		close(ch.b.deliveries)
		ch.b.deliveries = nil
	}
	return nil
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed || ch.conn.IsClosed()
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closed = true
	if ch.notify != nil {
		close(ch.notify)
	}
	return nil
}
