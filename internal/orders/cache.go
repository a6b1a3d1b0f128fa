package orders

import (
	"context"
	"time"
)

// Cache is the key/value collaborator. Get reports false on a miss.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) (bool, error)
	Remove(ctx context.Context, key string) error
}

// ProcessedMarker is the value stored under redisx.KeyOrderProcessed.
type ProcessedMarker struct {
	OrderID     string    `json:"orderId"`
	ProcessedAt time.Time `json:"processedAt"`
	Status      Status    `json:"status"`
}
