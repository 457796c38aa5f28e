package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"snapcart/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type OrderRepo interface {
	FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, key string) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// UpdateOrderStatus persists status fields only if the row still holds
	// the expected statuses; otherwise it returns domain.ErrConcurrentModification.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order, expected domain.OrderStatus, expectedPayment domain.PaymentStatus) error
	FindStuckGatewayOrders(ctx context.Context, placedBefore time.Time, limit int) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `
	id, order_number, customer_id, idempotency_key,
	subtotal, product_discount, coupon_discount, offer_discount, shipping_charge, tax, total,
	coupon_snapshot, COALESCE(applied_coupon_code, ''), shipping_address,
	payment_method, payment_status, order_status,
	placed_at, updated_at, delivered_at, canceled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		couponJSON []byte
		addrJSON   []byte
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerID,
		&o.IdempotencyKey,
		&o.Pricing.Subtotal,
		&o.Pricing.ProductDiscount,
		&o.Pricing.CouponDiscount,
		&o.Pricing.OfferDiscount,
		&o.Pricing.ShippingCharge,
		&o.Pricing.Tax,
		&o.Pricing.Total,
		&couponJSON,
		&o.AppliedCouponCode,
		&addrJSON,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.Status,
		&o.PlacedAt,
		&o.UpdatedAt,
		&o.DeliveredAt,
		&o.CanceledAt,
	)
	if err != nil {
		return nil, err
	}
	if len(couponJSON) > 0 {
		var snap domain.CouponSnapshot
		if err := json.Unmarshal(couponJSON, &snap); err != nil {
			return nil, errors.Wrap(err, "decode coupon snapshot")
		}
		o.Pricing.Coupon = &snap
	}
	if err := json.Unmarshal(addrJSON, &o.ShippingAddress); err != nil {
		return nil, errors.Wrap(err, "decode shipping address")
	}
	return &o, nil
}

func (r *orderRepo) findOne(ctx context.Context, tx *sql.Tx, query string, args ...any) (*domain.Order, error) {
	c := conn(r.db, tx)
	order, err := scanOrder(c.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err, "find order")
	}
	if order.Items, err = r.findItems(ctx, c, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) FindById(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, key string) (*domain.Order, error) {
	return r.findOne(ctx, tx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 AND idempotency_key = $2",
		customerID, key,
	)
}

func (r *orderRepo) findItems(ctx context.Context, c execer, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := c.QueryContext(ctx, `
		SELECT id, variant_id, product_id, product_name, variant_name, image,
		       quantity, price, discount, final_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.VariantID,
			&it.ProductID,
			&it.ProductName,
			&it.VariantName,
			&it.Image,
			&it.Quantity,
			&it.Price,
			&it.Discount,
			&it.FinalPrice,
		); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "iterate order items")
}

// CreateOrder returns ErrDuplicate when the customer already has an order
// with the same idempotency key.
func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	var couponJSON any
	if order.Pricing.Coupon != nil {
		raw, err := json.Marshal(order.Pricing.Coupon)
		if err != nil {
			return errors.Wrap(err, "encode coupon snapshot")
		}
		couponJSON = string(raw)
	}
	addrJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "encode shipping address")
	}
	var couponCode any
	if order.AppliedCouponCode != "" {
		couponCode = order.AppliedCouponCode
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, idempotency_key,
			subtotal, product_discount, coupon_discount, offer_discount, shipping_charge, tax, total,
			coupon_snapshot, applied_coupon_code, shipping_address,
			payment_method, payment_status, order_status, placed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		order.ID, order.OrderNumber, order.CustomerID, order.IdempotencyKey,
		order.Pricing.Subtotal, order.Pricing.ProductDiscount, order.Pricing.CouponDiscount,
		order.Pricing.OfferDiscount, order.Pricing.ShippingCharge, order.Pricing.Tax, order.Pricing.Total,
		couponJSON, couponCode, string(addrJSON),
		order.PaymentMethod, order.PaymentStatus, order.Status, order.PlacedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicate, "order for idempotency key %s", order.IdempotencyKey)
		}
		return errors.Wrap(err, "insert order")
	}

	for i, it := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, variant_id, product_id, product_name, variant_name, image,
				quantity, price, discount, final_price, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			it.ID, order.ID, it.VariantID, it.ProductID, it.ProductName, it.VariantName, it.Image,
			it.Quantity, it.Price, it.Discount, it.FinalPrice, i,
		)
		if err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order, expected domain.OrderStatus, expectedPayment domain.PaymentStatus) error {
	res, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2,
		    payment_status = $3,
		    delivered_at = $4,
		    canceled_at = $5,
		    updated_at = $6
		WHERE id = $1 AND order_status = $7 AND payment_status = $8`,
		order.ID, order.Status, order.PaymentStatus, order.DeliveredAt, order.CanceledAt, order.UpdatedAt,
		expected, expectedPayment,
	)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrConcurrentModification, "order %s changed", order.OrderNumber)
	}
	return nil
}

// FindStuckGatewayOrders returns external-gateway orders still waiting for
// payment confirmation. Items are not loaded.
func (r *orderRepo) FindStuckGatewayOrders(ctx context.Context, placedBefore time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE payment_method = $1 AND payment_status = $2 AND order_status = $3 AND placed_at < $4
		ORDER BY placed_at
		LIMIT $5`,
		domain.PaymentOnline, domain.PaymentPending, domain.OrderPending, placedBefore, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query stuck orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stuck order")
		}
		orders = append(orders, *order)
	}
	return orders, errors.Wrap(rows.Err(), "iterate stuck orders")
}
