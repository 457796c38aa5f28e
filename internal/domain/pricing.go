package domain

import (
	"github.com/shopspring/decimal"
)

// CouponSnapshot freezes what a coupon granted when the order was priced, so
// later edits to the coupon never change a placed order.
type CouponSnapshot struct {
	Code            string          `json:"code"`
	Type            DiscountType    `json:"type"`
	Value           decimal.Decimal `json:"value"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
}

// OrderPricingSnapshot is the price breakdown of an order.
//
// OfferDiscount, ShippingCharge and Tax are not computed yet and are always
// zero; they are kept so adding them does not change the stored shape.
type OrderPricingSnapshot struct {
	Subtotal        decimal.Decimal
	ProductDiscount decimal.Decimal
	CouponDiscount  decimal.Decimal
	OfferDiscount   decimal.Decimal
	ShippingCharge  decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	Coupon          *CouponSnapshot
}

func (s OrderPricingSnapshot) AfterProductDiscount() decimal.Decimal {
	return s.Subtotal.Sub(s.ProductDiscount)
}

func (s OrderPricingSnapshot) CouponApplied() bool {
	return s.CouponDiscount.IsPositive()
}

// Equal compares every monetary field and the coupon snapshot.
func (s OrderPricingSnapshot) Equal(o OrderPricingSnapshot) bool {
	if !s.Subtotal.Equal(o.Subtotal) ||
		!s.ProductDiscount.Equal(o.ProductDiscount) ||
		!s.CouponDiscount.Equal(o.CouponDiscount) ||
		!s.OfferDiscount.Equal(o.OfferDiscount) ||
		!s.ShippingCharge.Equal(o.ShippingCharge) ||
		!s.Tax.Equal(o.Tax) ||
		!s.Total.Equal(o.Total) {
		return false
	}
	if (s.Coupon == nil) != (o.Coupon == nil) {
		return false
	}
	if s.Coupon == nil {
		return true
	}
	return s.Coupon.Code == o.Coupon.Code &&
		s.Coupon.Type == o.Coupon.Type &&
		s.Coupon.Value.Equal(o.Coupon.Value) &&
		s.Coupon.DiscountApplied.Equal(o.Coupon.DiscountApplied)
}

// LineSubtotal is base price times quantity.
func (i CartItemWithPricing) LineSubtotal() decimal.Decimal {
	return i.BasePrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// LineDiscount is the product-level discount for the whole line.
func (i CartItemWithPricing) LineDiscount() decimal.Decimal {
	if !i.DiscountPercent.Valid || !i.DiscountPercent.Decimal.IsPositive() {
		return decimal.Zero
	}
	return i.LineSubtotal().Mul(i.DiscountPercent.Decimal).Div(hundred).Round(2)
}
