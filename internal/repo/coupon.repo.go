package repo

import (
	"context"
	"database/sql"
	"time"

	"snapcart/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type CouponRepo interface {
	FindByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Coupon, error)
	// FindByIdForUpdate row-locks the coupon until tx ends.
	FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Coupon, error)
	Create(ctx context.Context, coupon *domain.Coupon) error
	Update(ctx context.Context, tx *sql.Tx, coupon *domain.Coupon) error
	GetUserUsageCount(ctx context.Context, tx *sql.Tx, couponID, customerID uuid.UUID) (int, error)
	RecordUsage(ctx context.Context, tx *sql.Tx, usage *domain.CouponUsage) error
	// IncrementUsedCount bumps used_count only while it is below usage_limit.
	// It returns domain.ErrConcurrentModification when the limit was hit.
	IncrementUsedCount(ctx context.Context, tx *sql.Tx, couponID uuid.UUID, now time.Time) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type couponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) CouponRepo {
	return &couponRepo{db: db}
}

const couponColumns = `
	id, code, discount_type, discount_value, min_amount, max_discount,
	starts_at, ends_at, status, usage_limit, used_count, max_usage_per_user,
	applicable_to, stackable, created_at, updated_at`

func scanCoupon(row rowScanner) (*domain.Coupon, error) {
	var (
		c          domain.Coupon
		usageLimit sql.NullInt64
	)
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MinAmount,
		&c.MaxDiscount,
		&c.StartsAt,
		&c.EndsAt,
		&c.Status,
		&usageLimit,
		&c.UsedCount,
		&c.MaxUsagePerUser,
		&c.ApplicableTo,
		&c.Stackable,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		c.UsageLimit = &limit
	}
	return &c, nil
}

func (r *couponRepo) FindByCode(ctx context.Context, tx *sql.Tx, code string) (*domain.Coupon, error) {
	row := conn(r.db, tx).QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE code = $1",
		domain.NormalizeCouponCode(code),
	)
	c, err := scanCoupon(row)
	if err != nil {
		return nil, notFound(err, "find coupon by code")
	}
	return c, nil
}

func (r *couponRepo) FindByIdForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Coupon, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+couponColumns+" FROM coupons WHERE id = $1 FOR UPDATE", id)
	c, err := scanCoupon(row)
	if err != nil {
		return nil, notFound(err, "lock coupon")
	}
	return c, nil
}

func nullableLimit(limit *int) any {
	if limit == nil {
		return nil
	}
	return *limit
}

func (r *couponRepo) Create(ctx context.Context, c *domain.Coupon) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (
			id, code, discount_type, discount_value, min_amount, max_discount,
			starts_at, ends_at, status, usage_limit, used_count, max_usage_per_user,
			applicable_to, stackable, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.Code, c.DiscountType, c.DiscountValue, c.MinAmount, c.MaxDiscount,
		c.StartsAt, c.EndsAt, c.Status, nullableLimit(c.UsageLimit), c.UsedCount, c.MaxUsagePerUser,
		c.ApplicableTo, c.Stackable, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicate, "coupon %s", c.Code)
		}
		return errors.Wrap(err, "insert coupon")
	}
	return nil
}

// Update writes the editable fields and status. used_count is owned by
// IncrementUsedCount and never written here.
func (r *couponRepo) Update(ctx context.Context, tx *sql.Tx, c *domain.Coupon) error {
	res, err := conn(r.db, tx).ExecContext(ctx, `
		UPDATE coupons
		SET discount_type = $2,
		    discount_value = $3,
		    min_amount = $4,
		    max_discount = $5,
		    starts_at = $6,
		    ends_at = $7,
		    status = $8,
		    usage_limit = $9,
		    max_usage_per_user = $10,
		    applicable_to = $11,
		    stackable = $12,
		    updated_at = $13
		WHERE id = $1`,
		c.ID, c.DiscountType, c.DiscountValue, c.MinAmount, c.MaxDiscount,
		c.StartsAt, c.EndsAt, c.Status, nullableLimit(c.UsageLimit), c.MaxUsagePerUser,
		c.ApplicableTo, c.Stackable, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update coupon")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "coupon %s", c.ID)
	}
	return nil
}

func (r *couponRepo) GetUserUsageCount(ctx context.Context, tx *sql.Tx, couponID, customerID uuid.UUID) (int, error) {
	var n int
	err := conn(r.db, tx).QueryRowContext(ctx,
		"SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND customer_id = $2",
		couponID, customerID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count coupon usages")
	}
	return n, nil
}

func (r *couponRepo) RecordUsage(ctx context.Context, tx *sql.Tx, u *domain.CouponUsage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, customer_id, order_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.CouponID, u.CustomerID, u.OrderID, u.DiscountAmount, u.UsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrDuplicate, "coupon usage for order %s", u.OrderID)
		}
		return errors.Wrap(err, "insert coupon usage")
	}
	return nil
}

func (r *couponRepo) IncrementUsedCount(ctx context.Context, tx *sql.Tx, couponID uuid.UUID, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
		couponID, now,
	)
	if err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	if n == 0 {
		return errors.Wrap(domain.ErrConcurrentModification, "coupon usage limit reached")
	}
	return nil
}

// ExpireOverdue marks every non-expired coupon past its end date as expired.
func (r *couponRepo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET status = $1, updated_at = $2
		WHERE status <> $1 AND ends_at < $2`,
		domain.CouponExpired, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "expire coupons")
	}
	return res.RowsAffected()
}
