package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	// ErrStaleStatus means another writer changed the status first.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

type Order struct {
	ID            uuid.UUID     `json:"id"`
	UserID        string        `json:"userId"`
	ProductID     string        `json:"productId"`
	Quantity      int           `json:"quantity"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Status        Status        `json:"status"` // lihat status.go
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewOrder builds a Pending order. It does not persist anything.
func NewOrder(userID, productID string, qty int, pm PaymentMethod, now time.Time) (*Order, error) {
	o := &Order{
		ID:            uuid.New(),
		UserID:        userID,
		ProductID:     productID,
		Quantity:      qty,
		PaymentMethod: pm,
		Status:        StatusPending,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Order) Validate() error {
	var problems []error
	if o.UserID == "" {
		problems = append(problems, errors.New("userId is required"))
	}
	if o.ProductID == "" {
		problems = append(problems, errors.New("productId is required"))
	}
	if o.Quantity < 1 {
		problems = append(problems, errors.New("quantity must be greater than 0"))
	}
	if !o.PaymentMethod.Valid() {
		problems = append(problems, fmt.Errorf("invalid payment method %q", o.PaymentMethod))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, errors.Join(problems...))
	}
	return nil
}

// Transition moves the order to next and refreshes UpdatedAt.
func (o *Order) Transition(next Status, now time.Time) error {
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now.UTC()
	return nil
}

// Labels used on ProcessingLogEntry.Status.
const (
	LogProcessing   = "Processing"
	LogProcessed    = "Processed"
	LogNotification = "Notification"
	LogError        = "Error"
)

// ProcessingLogEntry is append-only; rows are removed only with their order.
type ProcessingLogEntry struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"orderId"`
	Status      string    `json:"status"`
	Message     *string   `json:"message,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

func NewLogEntry(orderID uuid.UUID, status, msg string, now time.Time) ProcessingLogEntry {
	e := ProcessingLogEntry{
		ID:          uuid.New(),
		OrderID:     orderID,
		Status:      status,
		ProcessedAt: now.UTC(),
	}
	if msg != "" {
		e.Message = &msg
	}
	return e
}
