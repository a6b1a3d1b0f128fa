package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-order-messaging/internal/kafka"
	"github.com/ariefcatur/go-order-messaging/internal/orders"
)

// Notifier tells downstream systems that an order was processed.
type Notifier interface {
	OrderProcessed(ctx context.Context, o *orders.Order, message string, at time.Time) error
}

type eventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// KafkaNotifier emits an OrderProcessed envelope keyed by order id.
type KafkaNotifier struct {
	pub      eventPublisher
	producer string
}

func NewKafkaNotifier(pub eventPublisher, producer string) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, producer: producer}
}

func (n *KafkaNotifier) OrderProcessed(_ context.Context, o *orders.Order, message string, at time.Time) error {
	payload, err := json.Marshal(orders.OrderProcessedPayload{
		OrderID:     o.ID.String(),
		UserID:      o.UserID,
		Message:     message,
		ProcessedAt: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	value, err := json.Marshal(orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderProcessed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.producer,
		CorrelationID: o.ID.String(),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return n.pub.Publish(orders.PartitionKey(o.ID.String()), value, kafkax.EventHeaders(orders.EventOrderProcessed, 1)...)
}
