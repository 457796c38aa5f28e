package repo

import (
	"context"
	"database/sql"
	"time"

	"snapcart/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CartClearRequest is an outstanding request to empty a cart after its order
// committed.
type CartClearRequest struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	OrderID    uuid.UUID
	PlacedAt   time.Time
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

type CartRepo interface {
	FetchCartItemsWithPricing(ctx context.Context, customerID uuid.UUID) ([]domain.CartItemWithPricing, error)
	AddItem(ctx context.Context, customerID, variantID uuid.UUID, quantity int, now time.Time) error
	// EnqueueClear records, inside the commit tx, that the cart must be
	// cleared for orderID.
	EnqueueClear(ctx context.Context, tx *sql.Tx, customerID, orderID uuid.UUID, now time.Time) error
	// ClearCart removes the ordered quantities from the cart and completes
	// the matching request in one transaction.
	ClearCart(ctx context.Context, orderID uuid.UUID, now time.Time) error
	RecordClearFailure(ctx context.Context, orderID uuid.UUID, cause error) error
	PendingClears(ctx context.Context, maxAttempts, limit int) ([]CartClearRequest, error)
}

type cartRepo struct {
	db *sql.DB
}

func NewCartRepo(db *sql.DB) CartRepo {
	return &cartRepo{db: db}
}

func (r *cartRepo) FetchCartItemsWithPricing(ctx context.Context, customerID uuid.UUID) ([]domain.CartItemWithPricing, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.variant_id, v.product_id, ci.quantity, v.price, p.discount_percent,
		       ci.added_at, p.name, v.name, COALESCE(NULLIF(v.image, ''), p.image)
		FROM cart_items ci
		JOIN product_variants v ON v.id = ci.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE ci.customer_id = $1
		ORDER BY ci.added_at, ci.variant_id`, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	defer rows.Close()

	var items []domain.CartItemWithPricing
	for rows.Next() {
		var it domain.CartItemWithPricing
		if err := rows.Scan(
			&it.VariantID,
			&it.ProductID,
			&it.Quantity,
			&it.BasePrice,
			&it.DiscountPercent,
			&it.AddedAt,
			&it.ProductName,
			&it.VariantName,
			&it.Image,
		); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "iterate cart")
}

// AddItem inserts a line or increases the quantity of an existing one. A
// changed line takes the new added_at so it keys a fresh checkout.
func (r *cartRepo) AddItem(ctx context.Context, customerID, variantID uuid.UUID, quantity int, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, variant_id, quantity, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id, variant_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              added_at = EXCLUDED.added_at`,
		customerID, variantID, quantity, now,
	)
	return errors.Wrap(err, "add cart item")
}

func (r *cartRepo) EnqueueClear(ctx context.Context, tx *sql.Tx, customerID, orderID uuid.UUID, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cart_clear_requests (id, customer_id, order_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`,
		uuid.New(), customerID, orderID, now,
	)
	return errors.Wrap(err, "enqueue cart clear")
}

func (r *cartRepo) ClearCart(ctx context.Context, orderID uuid.UUID, now time.Time) error {
	return WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var customerID uuid.UUID
		err := tx.QueryRowContext(ctx, `
			SELECT customer_id
			FROM cart_clear_requests
			WHERE order_id = $1 AND completed_at IS NULL
			FOR UPDATE`, orderID,
		).Scan(&customerID)
		if errors.Is(err, sql.ErrNoRows) {
			// already cleared
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock cart clear request")
		}

		// Only the ordered units leave the cart. Lines or units added since
		// belong to the next checkout.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cart_items ci
			USING order_items oi
			WHERE oi.order_id = $2 AND ci.customer_id = $1
			  AND ci.variant_id = oi.variant_id AND ci.quantity <= oi.quantity`,
			customerID, orderID,
		); err != nil {
			return errors.Wrap(err, "delete cart items")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE cart_items ci
			SET quantity = ci.quantity - oi.quantity
			FROM order_items oi
			WHERE oi.order_id = $2 AND ci.customer_id = $1
			  AND ci.variant_id = oi.variant_id`,
			customerID, orderID,
		); err != nil {
			return errors.Wrap(err, "reduce cart items")
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cart_clear_requests
			SET completed_at = $2, attempts = attempts + 1, last_error = ''
			WHERE order_id = $1`, orderID, now,
		)
		return errors.Wrap(err, "complete cart clear request")
	})
}

func (r *cartRepo) RecordClearFailure(ctx context.Context, orderID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE cart_clear_requests
		SET attempts = attempts + 1, last_error = $2
		WHERE order_id = $1 AND completed_at IS NULL`, orderID, msg,
	)
	return errors.Wrap(err, "record cart clear failure")
}

// PendingClears lists incomplete requests below the attempt limit, oldest first.
func (r *cartRepo) PendingClears(ctx context.Context, maxAttempts, limit int) ([]CartClearRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ccr.id, ccr.customer_id, ccr.order_id, o.placed_at, ccr.attempts, ccr.last_error, ccr.created_at
		FROM cart_clear_requests ccr
		JOIN orders o ON o.id = ccr.order_id
		WHERE ccr.completed_at IS NULL AND ccr.attempts < $1
		ORDER BY ccr.created_at
		LIMIT $2`, maxAttempts, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query pending cart clears")
	}
	defer rows.Close()

	var reqs []CartClearRequest
	for rows.Next() {
		var c CartClearRequest
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.OrderID, &c.PlacedAt, &c.Attempts, &c.LastError, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan cart clear request")
		}
		reqs = append(reqs, c)
	}
	return reqs, errors.Wrap(rows.Err(), "iterate cart clear requests")
}
