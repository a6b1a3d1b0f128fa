package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-messaging/internal/redisx"
)

// Publisher delivers an event to a named queue.
type Publisher interface {
	Publish(ctx context.Context, event any, queue string) error
}

type PlaceOrderRequest struct {
	UserID        string        `json:"userId"`
	ProductID     string        `json:"productId"`
	Quantity      int           `json:"quantity"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// Service is the write path for new orders and the read path for the API.
type Service struct {
	repo  Repository
	cache Cache
	pub   Publisher
	log   *zap.Logger
	queue string
	now   func() time.Time
}

func NewService(repo Repository, cache Cache, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:  repo,
		cache: cache,
		pub:   pub,
		log:   log.Named("orders"),
		queue: QueueOrderPlaced,
		now:   time.Now,
	}
}

// WithQueue overrides the queue OrderPlaced events are published to.
func (s *Service) WithQueue(queue string) *Service {
	if queue != "" {
		s.queue = queue
	}
	return s
}

// PlaceOrder stores a Pending order and then announces it. The event is
// published only after the row is committed.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	o, err := NewOrder(req.UserID, req.ProductID, req.Quantity, req.PaymentMethod, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.create(ctx, o); err != nil {
		return nil, err
	}

	// the row is committed either way, so the cached list is stale
	if err := s.cache.Remove(ctx, redisx.UserOrdersKey(o.UserID)); err != nil {
		s.log.Warn("invalidate user orders", zap.String("user_id", o.UserID), zap.Error(err))
	}

	if err := s.pub.Publish(ctx, NewOrderPlacedEvent(o), s.queue); err != nil {
		s.log.Error("order saved but not published", zap.String("order_id", o.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("publish order %s: %w", o.ID, err)
	}
	s.log.Info("order placed", zap.String("order_id", o.ID.String()), zap.String("user_id", o.UserID))
	return o, nil
}

func (s *Service) create(ctx context.Context, o *Order) error {
	uow, err := s.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = uow.Rollback(ctx) }()

	if err := uow.CreateOrder(ctx, o); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// ListOrders reads through the per-user cache, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	key := redisx.UserOrdersKey(userID)

	var cached []Order
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("read user orders cache", zap.String("key", key), zap.Error(err))
	}
	if hit && err == nil {
		return cached, nil
	}

	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Order{}
	}
	if err := s.cache.Set(ctx, key, list, redisx.TTLUserOrders); err != nil {
		s.log.Warn("write user orders cache", zap.String("key", key), zap.Error(err))
	}
	return list, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListLogs returns the processing audit trail of an existing order.
func (s *Service) ListLogs(ctx context.Context, id uuid.UUID) ([]ProcessingLogEntry, error) {
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []ProcessingLogEntry{}
	}
	return logs, nil
}
