package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type CouponStatus string

const (
	CouponActive   CouponStatus = "active"
	CouponInactive CouponStatus = "inactive"
	CouponExpired  CouponStatus = "expired"
)

type CouponScope string

const (
	ScopeAll      CouponScope = "all"
	ScopeCategory CouponScope = "category"
	ScopeProduct  CouponScope = "product"
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	ID              uuid.UUID
	Code            string
	DiscountType    DiscountType
	DiscountValue   decimal.Decimal
	MinAmount       decimal.Decimal
	MaxDiscount     decimal.NullDecimal
	StartsAt        time.Time
	EndsAt          time.Time
	Status          CouponStatus
	UsageLimit      *int
	UsedCount       int
	MaxUsagePerUser int
	ApplicableTo    CouponScope
	Stackable       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CouponDetails is the editable part of a coupon.
type CouponDetails struct {
	DiscountType    DiscountType
	DiscountValue   decimal.Decimal
	MinAmount       decimal.Decimal
	MaxDiscount     decimal.NullDecimal
	StartsAt        time.Time
	EndsAt          time.Time
	UsageLimit      *int
	MaxUsagePerUser int
	ApplicableTo    CouponScope
	Stackable       bool
}

// NormalizeCouponCode returns the canonical (trimmed, uppercase) form of a code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon validates every field and returns an active coupon.
func NewCoupon(code string, d CouponDetails, now time.Time) (*Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return nil, errors.Wrap(ErrInvalidCoupon, "code is required")
	}
	if d.MaxUsagePerUser == 0 {
		d.MaxUsagePerUser = 1
	}
	if d.ApplicableTo == "" {
		d.ApplicableTo = ScopeAll
	}
	if err := d.validate(0); err != nil {
		return nil, err
	}

	c := &Coupon{
		ID:        uuid.New(),
		Code:      code,
		Status:    CouponActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.apply(d)
	return c, nil
}

func (d CouponDetails) validate(usedCount int) error {
	switch d.DiscountType {
	case DiscountPercentage:
		if !d.DiscountValue.IsPositive() || d.DiscountValue.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidCoupon, "percentage discount must be in (0,100]")
		}
	case DiscountFixed:
		if !d.DiscountValue.IsPositive() {
			return errors.Wrap(ErrInvalidCoupon, "fixed discount must be positive")
		}
	default:
		return errors.Wrapf(ErrInvalidCoupon, "unknown discount type %q", d.DiscountType)
	}
	if d.MinAmount.IsNegative() {
		return errors.Wrap(ErrInvalidCoupon, "minimum amount cannot be negative")
	}
	if d.MaxDiscount.Valid && !d.MaxDiscount.Decimal.IsPositive() {
		return errors.Wrap(ErrInvalidCoupon, "maximum discount must be positive")
	}
	if !d.EndsAt.After(d.StartsAt) {
		return errors.Wrap(ErrInvalidCoupon, "end date must be after start date")
	}
	if d.UsageLimit != nil {
		if *d.UsageLimit < 0 {
			return errors.Wrap(ErrInvalidCoupon, "usage limit cannot be negative")
		}
		if *d.UsageLimit < usedCount {
			return errors.Wrapf(ErrInvalidCoupon, "usage limit %d is below current usage %d", *d.UsageLimit, usedCount)
		}
	}
	if d.MaxUsagePerUser < 1 {
		return errors.Wrap(ErrInvalidCoupon, "per-user usage limit must be at least 1")
	}
	switch d.ApplicableTo {
	case ScopeAll, ScopeCategory, ScopeProduct:
	default:
		return errors.Wrapf(ErrInvalidCoupon, "unknown scope %q", d.ApplicableTo)
	}
	return nil
}

func (c *Coupon) apply(d CouponDetails) {
	c.DiscountType = d.DiscountType
	c.DiscountValue = d.DiscountValue
	c.MinAmount = d.MinAmount
	c.MaxDiscount = d.MaxDiscount
	c.StartsAt = d.StartsAt
	c.EndsAt = d.EndsAt
	c.UsageLimit = d.UsageLimit
	c.MaxUsagePerUser = d.MaxUsagePerUser
	c.ApplicableTo = d.ApplicableTo
	c.Stackable = d.Stackable
}

func (c *Coupon) Details() CouponDetails {
	return CouponDetails{
		DiscountType:    c.DiscountType,
		DiscountValue:   c.DiscountValue,
		MinAmount:       c.MinAmount,
		MaxDiscount:     c.MaxDiscount,
		StartsAt:        c.StartsAt,
		EndsAt:          c.EndsAt,
		UsageLimit:      c.UsageLimit,
		MaxUsagePerUser: c.MaxUsagePerUser,
		ApplicableTo:    c.ApplicableTo,
		Stackable:       c.Stackable,
	}
}

type CouponRejection string

const (
	RejectInactive      CouponRejection = "inactive"
	RejectOutsideWindow CouponRejection = "outside_validity_window"
	RejectUsageLimit    CouponRejection = "usage_limit_reached"
	RejectPerUserLimit  CouponRejection = "per_user_limit_reached"
	RejectMinAmount     CouponRejection = "min_amount_not_met"
)

// CouponValidation is the outcome of ValidateForCart. Reason and Message are
// empty when Valid is true.
type CouponValidation struct {
	Valid   bool
	Reason  CouponRejection
	Message string
}

// Err converts a failed validation into a *CouponInvalidError.
func (v CouponValidation) Err(code string) error {
	if v.Valid {
		return nil
	}
	return &CouponInvalidError{Code: code, Reason: v.Reason, Message: v.Message}
}

// ValidateForCart checks, in order: status, validity window, global usage
// limit, per-user usage limit, minimum cart amount. Only the first failure is
// reported.
func (c *Coupon) ValidateForCart(now time.Time, cartTotal decimal.Decimal, userUsageCount int) CouponValidation {
	if c.Status != CouponActive {
		return CouponValidation{Reason: RejectInactive, Message: "coupon is not active"}
	}
	if now.Before(c.StartsAt) || now.After(c.EndsAt) {
		return CouponValidation{Reason: RejectOutsideWindow, Message: "coupon is expired or not yet valid"}
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return CouponValidation{Reason: RejectUsageLimit, Message: "coupon usage limit has been reached"}
	}
	if userUsageCount >= c.MaxUsagePerUser {
		return CouponValidation{Reason: RejectPerUserLimit, Message: "you have already used this coupon the maximum number of times"}
	}
	if cartTotal.LessThan(c.MinAmount) {
		return CouponValidation{
			Reason:  RejectMinAmount,
			Message: fmt.Sprintf("minimum cart amount of %s required", c.MinAmount.StringFixed(2)),
		}
	}
	return CouponValidation{Valid: true}
}

// CalculateDiscount never returns more than min(MaxDiscount, cartTotal).
func (c *Coupon) CalculateDiscount(cartTotal decimal.Decimal) decimal.Decimal {
	if !cartTotal.IsPositive() || cartTotal.LessThan(c.MinAmount) {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = cartTotal.Mul(c.DiscountValue).Div(hundred).Round(2)
	case DiscountFixed:
		discount = c.DiscountValue
	default:
		return decimal.Zero
	}

	if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
		discount = c.MaxDiscount.Decimal
	}
	if discount.GreaterThan(cartTotal) {
		discount = cartTotal
	}
	return discount
}

func (c *Coupon) Activate(now time.Time) error {
	if c.Status == CouponExpired || now.After(c.EndsAt) {
		return errors.Wrapf(ErrCouponExpired, "cannot activate %s", c.Code)
	}
	c.Status = CouponActive
	c.UpdatedAt = now
	return nil
}

func (c *Coupon) Deactivate(now time.Time) error {
	if c.Status == CouponExpired {
		return errors.Wrapf(ErrCouponExpired, "cannot deactivate %s", c.Code)
	}
	c.Status = CouponInactive
	c.UpdatedAt = now
	return nil
}

// Expire is terminal and idempotent.
func (c *Coupon) Expire(now time.Time) {
	if c.Status == CouponExpired {
		return
	}
	c.Status = CouponExpired
	c.UpdatedAt = now
}

func (c *Coupon) IncrementUsedCount(now time.Time) error {
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return errors.Wrapf(ErrCouponLimitReached, "coupon %s", c.Code)
	}
	c.UsedCount++
	c.UpdatedAt = now
	return nil
}

func (c *Coupon) UpdateDetails(d CouponDetails, now time.Time) error {
	if c.Status == CouponExpired {
		return errors.Wrapf(ErrCouponExpired, "cannot edit %s", c.Code)
	}
	if d.ApplicableTo == "" {
		d.ApplicableTo = c.ApplicableTo
	}
	if err := d.validate(c.UsedCount); err != nil {
		return err
	}
	c.apply(d)
	c.UpdatedAt = now
	return nil
}

// CouponUsage ties one coupon application to the order it discounted.
type CouponUsage struct {
	ID             uuid.UUID
	CouponID       uuid.UUID
	CustomerID     uuid.UUID
	OrderID        uuid.UUID
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}
