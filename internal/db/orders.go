package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderNotAvailable = errors.New("order is no longer open for acceptance")
)

const (
	OrderSearching  = "searching"
	OrderInProgress = "in_progress"
)

type Order struct {
	ID          int64      `json:"id"`
	ClientID    string     `json:"client_id"`
	ExecutorID  *string    `json:"executor_id,omitempty"`
	Description string     `json:"description"`
	Price       string     `json:"price"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
}

const orderColumns = "id, client_id, executor_id, description, price, status, created_at, accepted_at"

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ClientID, &o.ExecutorID, &o.Description, &o.Price, &o.Status, &o.CreatedAt, &o.AcceptedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ParseOrderID converts the textual order id carried by sessions.
func ParseOrderID(orderID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrOrderNotFound, orderID)
	}
	return id, nil
}

func (db *DB) CreateOrder(ctx context.Context, clientID, description, price string) (*Order, error) {
	return scanOrder(db.pool.QueryRow(ctx,
		"INSERT INTO orders (client_id, description, price) VALUES ($1, $2, $3) RETURNING "+orderColumns,
		clientID, description, price,
	))
}

func (db *DB) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return scanOrder(db.pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1",
		id,
	))
}

// AcceptOrder assigns an executor to an open order and moves it to
// in_progress.
func (db *DB) AcceptOrder(ctx context.Context, id int64, executorID string) (*Order, error) {
	o, err := scanOrder(db.pool.QueryRow(ctx,
		`UPDATE orders SET executor_id = $2, status = $3, accepted_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING `+orderColumns,
		id, executorID, OrderInProgress, OrderSearching,
	))
	if !errors.Is(err, ErrOrderNotFound) {
		return o, err
	}
	if _, err := db.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrOrderNotAvailable
}

// ReleaseOrder reopens an accepted order whose chat could not be started.
func (db *DB) ReleaseOrder(ctx context.Context, id int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE orders SET executor_id = NULL, status = $2, accepted_at = NULL
		 WHERE id = $1 AND status = $3`,
		id, OrderSearching, OrderInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to release order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotAvailable
	}
	return nil
}

// AmountFor returns the price of the order backing a session.
func (db *DB) AmountFor(ctx context.Context, orderID string) (string, error) {
	id, err := ParseOrderID(orderID)
	if err != nil {
		return "", err
	}
	var price string
	err = db.pool.QueryRow(ctx, "SELECT price FROM orders WHERE id = $1", id).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return price, nil
}
