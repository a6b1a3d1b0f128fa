package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderProcessed = "OrderProcessed"
)

var ErrMalformedEvent = errors.New("malformed order event")

// OrderPlacedEvent is the queue payload. Field names are a wire contract.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID     `json:"orderId"`
	UserID        string        `json:"userId"`
	ProductID     string        `json:"productId"`
	Quantity      int           `json:"quantity"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
	}
}

// wireOrderPlaced uses pointers so a missing field can be told apart from a zero value.
type wireOrderPlaced struct {
	OrderID       *uuid.UUID     `json:"orderId"`
	UserID        *string        `json:"userId"`
	ProductID     *string        `json:"productId"`
	Quantity      *int           `json:"quantity"`
	PaymentMethod *PaymentMethod `json:"paymentMethod"`
	CreatedAt     *time.Time     `json:"createdAt"`
}

// DecodeOrderPlaced parses a queue payload. Unknown fields are ignored;
// missing or invalid required fields return ErrMalformedEvent.
func DecodeOrderPlaced(b []byte) (OrderPlacedEvent, error) {
	var w wireOrderPlaced
	if err := json.Unmarshal(b, &w); err != nil {
		return OrderPlacedEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	var missing []string
	if w.OrderID == nil || *w.OrderID == uuid.Nil {
		missing = append(missing, "orderId")
	}
	if w.UserID == nil || *w.UserID == "" {
		missing = append(missing, "userId")
	}
	if w.ProductID == nil || *w.ProductID == "" {
		missing = append(missing, "productId")
	}
	if w.Quantity == nil {
		missing = append(missing, "quantity")
	}
	if w.PaymentMethod == nil {
		missing = append(missing, "paymentMethod")
	}
	if w.CreatedAt == nil || w.CreatedAt.IsZero() {
		missing = append(missing, "createdAt")
	}
	if len(missing) > 0 {
		return OrderPlacedEvent{}, fmt.Errorf("%w: missing %v", ErrMalformedEvent, missing)
	}
	if *w.Quantity < 1 {
		return OrderPlacedEvent{}, fmt.Errorf("%w: quantity %d", ErrMalformedEvent, *w.Quantity)
	}
	if !w.PaymentMethod.Valid() {
		return OrderPlacedEvent{}, fmt.Errorf("%w: payment method %q", ErrMalformedEvent, *w.PaymentMethod)
	}
	return OrderPlacedEvent{
		OrderID:       *w.OrderID,
		UserID:        *w.UserID,
		ProductID:     *w.ProductID,
		Quantity:      *w.Quantity,
		PaymentMethod: *w.PaymentMethod,
		CreatedAt:     *w.CreatedAt,
	}, nil
}

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-worker"
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderProcessedPayload struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Message     string    `json:"message"`
	ProcessedAt time.Time `json:"processed_at"`
}
