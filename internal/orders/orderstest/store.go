// Package orderstest provides an in-memory orders.Repository for tests.
package orderstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-order-messaging/internal/orders"
)

// Store applies a unit of work only on Commit, like the Postgres repo.
type Store struct {
	mu     sync.Mutex
	orders map[uuid.UUID]orders.Order
	logs   []orders.ProcessingLogEntry

	Commits int

	// Hooks for failure injection; nil means succeed.
	GetErr    func(id uuid.UUID) error
	BeginErr  func() error
	CommitErr func(n int) error // n is the 1-based commit attempt
}

var _ orders.Repository = (*Store)(nil)

func New() *Store {
	return &Store{orders: map[uuid.UUID]orders.Order{}}
}

// Put seeds an order directly.
func (s *Store) Put(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// Order returns the committed state of id.
func (s *Store) Order(id uuid.UUID) (orders.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Logs returns committed log entries for id in insertion order.
func (s *Store) Logs(id uuid.UUID) []orders.ProcessingLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.ProcessingLogEntry
	for _, e := range s.logs {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	if s.GetErr != nil {
		if err := s.GetErr(id); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListLogs(_ context.Context, orderID uuid.UUID) ([]orders.ProcessingLogEntry, error) {
	return s.Logs(orderID), nil
}

func (s *Store) Begin(_ context.Context) (orders.UnitOfWork, error) {
	if s.BeginErr != nil {
		if err := s.BeginErr(); err != nil {
			return nil, err
		}
	}
	return &unit{s: s}, nil
}

type savedOrder struct {
	order orders.Order
	from  orders.Status
}

type unit struct {
	s       *Store
	created []orders.Order
	saved   []savedOrder
	logs    []orders.ProcessingLogEntry
	done    bool
}

func (u *unit) CreateOrder(_ context.Context, o *orders.Order) error {
	u.created = append(u.created, *o)
	return nil
}

func (u *unit) SaveOrder(_ context.Context, o *orders.Order, from orders.Status) error {
	u.saved = append(u.saved, savedOrder{order: *o, from: from})
	return nil
}

func (u *unit) AppendLog(_ context.Context, e orders.ProcessingLogEntry) error {
	u.logs = append(u.logs, e)
	return nil
}

func (u *unit) Commit(_ context.Context) error {
	if u.done {
		return errors.New("unit of work already closed")
	}
	u.done = true
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commits++
	if s.CommitErr != nil {
		if err := s.CommitErr(s.Commits); err != nil {
			return err
		}
	}
	// check every conditional write before applying anything
	for _, sv := range u.saved {
		cur, ok := s.orders[sv.order.ID]
		if !ok {
			return orders.ErrNotFound
		}
		if cur.Status != sv.from {
			return fmt.Errorf("%w: order %s is %s, not %s", orders.ErrStaleStatus, cur.ID, cur.Status, sv.from)
		}
	}
	for _, o := range u.created {
		s.orders[o.ID] = o
	}
	for _, sv := range u.saved {
		s.orders[sv.order.ID] = sv.order
	}
	s.logs = append(s.logs, u.logs...)
	return nil
}

func (u *unit) Rollback(_ context.Context) error {
	u.done = true
	return nil
}
