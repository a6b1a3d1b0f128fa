package orderstest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-messaging/internal/orders"
)

type CacheEntry struct {
	Value []byte
	TTL   time.Duration
}

// Cache is an in-memory orders.Cache that records every Set.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	Sets    int
	Removes []string
	SetErr  error
}

var _ orders.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{entries: map[string]CacheEntry{}}
}

func (c *Cache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sets++
	if c.SetErr != nil {
		return c.SetErr
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = CacheEntry{Value: b, TTL: ttl}
	return nil
}

func (c *Cache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.Value, dst)
}

func (c *Cache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Removes = append(c.Removes, key)
	delete(c.entries, key)
	return nil
}

// Entry returns the raw stored entry for key.
func (c *Cache) Entry(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}
