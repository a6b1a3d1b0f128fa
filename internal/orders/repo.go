package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the read side plus the unit-of-work factory.
type Repository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListLogs(ctx context.Context, orderID uuid.UUID) ([]ProcessingLogEntry, error)
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork groups writes that commit atomically. Rollback after Commit is a no-op.
type UnitOfWork interface {
	CreateOrder(ctx context.Context, o *Order) error
	// SaveOrder writes o only if the stored status is still from.
	SaveOrder(ctx context.Context, o *Order, from Status) error
	AppendLog(ctx context.Context, e ProcessingLogEntry) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Repo struct{ DB *pgxpool.Pool }

var _ Repository = (*Repo)(nil)

const orderColumns = `id, user_id, product_id, quantity, payment_method, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var pm, st string
	if err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &pm, &st, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.PaymentMethod = PaymentMethod(pm)
	o.Status = Status(st)
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repo) ListLogs(ctx context.Context, orderID uuid.UUID) ([]ProcessingLogEntry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, message, processed_at
		FROM order_processing_logs WHERE order_id=$1 ORDER BY processed_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProcessingLogEntry
	for rows.Next() {
		var e ProcessingLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Message, &e.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgUnitOfWork{tx: tx}, nil
}

type pgUnitOfWork struct{ tx pgx.Tx }

func (u *pgUnitOfWork) CreateOrder(ctx context.Context, o *Order) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, product_id, quantity, payment_method, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.ProductID, o.Quantity, string(o.PaymentMethod), string(o.Status), o.CreatedAt, o.UpdatedAt)
	return err
}

func (u *pgUnitOfWork) SaveOrder(ctx context.Context, o *Order, from Status) error {
	ct, err := u.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
		o.ID, string(o.Status), o.UpdatedAt, string(from))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := u.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, o.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: order %s is no longer %s", ErrStaleStatus, o.ID, from)
}

func (u *pgUnitOfWork) AppendLog(ctx context.Context, e ProcessingLogEntry) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO order_processing_logs(id, order_id, status, message, processed_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.OrderID, e.Status, e.Message, e.ProcessedAt)
	return err
}

func (u *pgUnitOfWork) Commit(ctx context.Context) error { return u.tx.Commit(ctx) }

func (u *pgUnitOfWork) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
