package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrInvalidArgument   = errors.New("rabbitmq: invalid argument")
	ErrBrokerUnreachable = errors.New("rabbitmq: broker unreachable")
	ErrBrokerConfig      = errors.New("rabbitmq: broker configuration")
	ErrConnectionClosed  = errors.New("rabbitmq: connection or channel closed")
	ErrConfirmTimeout    = errors.New("rabbitmq: publish confirm timed out")
	ErrPublishNacked     = errors.New("rabbitmq: publish nacked by broker")
	ErrPublishFailed     = errors.New("rabbitmq: publish failed")
	ErrClosed            = errors.New("rabbitmq: client closed")
)

// Connection is the subset of *amqp.Connection used by this package.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Channel is the subset of *amqp.Channel used by this package.
type Channel interface {
	Confirm(noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	GetNextPublishSeqNo() uint64
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type connection struct{ *amqp.Connection }

func (c connection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial is the production Dialer.
func Dial(url string) (Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, err
	}
	return connection{conn}, nil
}

// ValidateURL reports a configuration error for a URL that can never dial.
func ValidateURL(url string) error {
	if _, err := amqp.ParseURI(url); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerConfig, err)
	}
	return nil
}

// classifyDial maps a dial failure onto the error taxonomy: bad credentials
// or vhost are configuration errors, everything else means unreachable.
func classifyDial(err error) error {
	if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) || errors.Is(err, amqp.ErrSASL) {
		return fmt.Errorf("%w: %w", ErrBrokerConfig, err)
	}
	return fmt.Errorf("%w: %w", ErrBrokerUnreachable, err)
}

// classifyChannel maps a channel operation failure. Any server exception
// closes the channel, so it is reported as closed.
func classifyChannel(op string, err error) error {
	var amqpErr *amqp.Error
	if errors.Is(err, amqp.ErrClosed) || errors.As(err, &amqpErr) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}

// DeadLetterQueue is where nack-without-requeue routes messages of queue.
func DeadLetterQueue(queue string) string { return queue + ".dead-letter" }

func queueArgs(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueue(queue),
	}
}

// declareQueue declares the dead-letter queue and then queue itself:
// durable, non-exclusive, not auto-deleted. Publisher and consumer must
// declare with identical arguments.
func declareQueue(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(DeadLetterQueue(queue), true, false, false, false, nil); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs(queue))
	return err
}
