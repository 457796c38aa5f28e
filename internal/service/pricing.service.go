package service

import (
	"time"

	"snapcart/internal/domain"

	"github.com/shopspring/decimal"
)

// Pricing is the result of CalculatePricing. CouponCheck is nil when no
// coupon was supplied.
type Pricing struct {
	Snapshot    domain.OrderPricingSnapshot
	CouponCheck *domain.CouponValidation
}

// CalculatePricing prices a cart snapshot. It performs no I/O and is
// deterministic for a fixed input.
//
// Product discounts are applied first; the coupon is validated and computed
// against the amount left after product discounts, never the raw subtotal.
func CalculatePricing(items []domain.CartItemWithPricing, coupon *domain.Coupon, userCouponUsageCount int, now time.Time) Pricing {
	subtotal := decimal.Zero
	productDiscount := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineSubtotal())
		productDiscount = productDiscount.Add(it.LineDiscount())
	}
	afterProductDiscount := subtotal.Sub(productDiscount)

	var result Pricing
	couponDiscount := decimal.Zero
	if coupon != nil {
		check := coupon.ValidateForCart(now, afterProductDiscount, userCouponUsageCount)
		result.CouponCheck = &check
		if check.Valid {
			couponDiscount = coupon.CalculateDiscount(afterProductDiscount)
			result.Snapshot.Coupon = &domain.CouponSnapshot{
				Code:            coupon.Code,
				Type:            coupon.DiscountType,
				Value:           coupon.DiscountValue,
				DiscountApplied: couponDiscount,
			}
		}
	}

	// not implemented yet
	offerDiscount := decimal.Zero
	shippingCharge := decimal.Zero
	tax := decimal.Zero

	total := afterProductDiscount.Sub(couponDiscount).Sub(offerDiscount).Add(shippingCharge).Add(tax)
	if total.IsNegative() {
		total = decimal.Zero
	}

	result.Snapshot.Subtotal = subtotal
	result.Snapshot.ProductDiscount = productDiscount
	result.Snapshot.CouponDiscount = couponDiscount
	result.Snapshot.OfferDiscount = offerDiscount
	result.Snapshot.ShippingCharge = shippingCharge
	result.Snapshot.Tax = tax
	result.Snapshot.Total = total
	return result
}
