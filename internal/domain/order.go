package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderProcessing      OrderStatus = "processing"
	OrderDelivered       OrderStatus = "delivered"
	OrderCanceled        OrderStatus = "canceled"
	OrderReturnRequested OrderStatus = "return_requested"
	OrderReturned        OrderStatus = "returned"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:         {OrderProcessing, OrderCanceled},
	OrderProcessing:      {OrderDelivered, OrderCanceled},
	OrderDelivered:       {OrderReturnRequested},
	OrderReturnRequested: {OrderReturned, OrderCanceled},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem is a frozen copy of a cart line; it is never re-resolved from the
// catalog.
type OrderItem struct {
	ID          uuid.UUID
	VariantID   uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	VariantName string
	Image       string
	Quantity    int
	Price       decimal.Decimal
	Discount    decimal.Decimal
	FinalPrice  decimal.Decimal
}

type Order struct {
	ID                uuid.UUID
	OrderNumber       string
	CustomerID        uuid.UUID
	IdempotencyKey    string
	Items             []OrderItem
	Pricing           OrderPricingSnapshot
	AppliedCouponCode string
	ShippingAddress   ShippingAddress
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	Status            OrderStatus
	PlacedAt          time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
	CanceledAt        *time.Time
}

type NewOrderParams struct {
	CustomerID     uuid.UUID
	IdempotencyKey string
	Items          []CartItemWithPricing
	Pricing        OrderPricingSnapshot
	Address        Address
	PaymentMethod  PaymentMethod
}

// NewOrder builds a pending order. Monetary fields are immutable afterwards.
func NewOrder(p NewOrderParams, now time.Time) (*Order, error) {
	if p.CustomerID == uuid.Nil || p.IdempotencyKey == "" {
		return nil, errors.New("cannot create order with empty required fields")
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if !p.PaymentMethod.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedPaymentMethod, "%q", p.PaymentMethod)
	}

	items := make([]OrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		discount := it.LineDiscount()
		items = append(items, OrderItem{
			ID:          uuid.New(),
			VariantID:   it.VariantID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Image:       it.Image,
			Quantity:    it.Quantity,
			Price:       it.BasePrice,
			Discount:    discount,
			FinalPrice:  it.LineSubtotal().Sub(discount),
		})
	}

	order := &Order{
		ID:              uuid.New(),
		OrderNumber:     NewOrderNumber(now),
		CustomerID:      p.CustomerID,
		IdempotencyKey:  p.IdempotencyKey,
		Items:           items,
		Pricing:         p.Pricing,
		ShippingAddress: p.Address.Snapshot(),
		PaymentMethod:   p.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          OrderPending,
		PlacedAt:        now,
		UpdatedAt:       now,
	}
	if p.Pricing.Coupon != nil {
		order.AppliedCouponCode = p.Pricing.Coupon.Code
	}
	return order, nil
}

// NewOrderNumber returns a sortable, human-readable order number.
func NewOrderNumber(now time.Time) string {
	return "SC-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func (o *Order) transition(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return errors.Wrapf(ErrInvalidTransition, "order %s: %s -> %s", o.OrderNumber, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

func (o *Order) StartProcessing(now time.Time) error {
	return o.transition(OrderProcessing, now)
}

// Cancel is allowed only from pending or processing.
func (o *Order) Cancel(now time.Time) error {
	if o.Status != OrderPending && o.Status != OrderProcessing {
		return errors.Wrapf(ErrInvalidTransition, "order %s cannot be canceled from %s", o.OrderNumber, o.Status)
	}
	if err := o.transition(OrderCanceled, now); err != nil {
		return err
	}
	o.CanceledAt = &now
	return nil
}

// Deliver reports whether this call performed the transition. Replaying it on
// a delivered order is a no-op so the delivery bonus is granted once.
func (o *Order) Deliver(now time.Time) (bool, error) {
	if o.Status == OrderDelivered {
		return false, nil
	}
	if err := o.transition(OrderDelivered, now); err != nil {
		return false, err
	}
	o.DeliveredAt = &now
	if o.PaymentMethod == PaymentCOD && o.PaymentStatus == PaymentPending {
		o.PaymentStatus = PaymentPaid
	}
	return true, nil
}

func (o *Order) RequestReturn(now time.Time) error {
	if o.Status != OrderDelivered {
		return errors.Wrapf(ErrInvalidTransition, "order %s: return needs a delivered order, got %s", o.OrderNumber, o.Status)
	}
	return o.transition(OrderReturnRequested, now)
}

func (o *Order) ApproveReturn(now time.Time) error {
	return o.transition(OrderReturned, now)
}

// DenyReturn closes a return request by canceling it.
func (o *Order) DenyReturn(now time.Time) error {
	if o.Status != OrderReturnRequested {
		return errors.Wrapf(ErrInvalidTransition, "order %s has no open return request", o.OrderNumber)
	}
	if err := o.transition(OrderCanceled, now); err != nil {
		return err
	}
	o.CanceledAt = &now
	return nil
}

func (o *Order) MarkPaid(now time.Time) error {
	if o.PaymentStatus != PaymentPending {
		return errors.Wrapf(ErrInvalidTransition, "order %s payment: %s -> %s", o.OrderNumber, o.PaymentStatus, PaymentPaid)
	}
	o.PaymentStatus = PaymentPaid
	o.UpdatedAt = now
	return nil
}

// Refund is allowed once, from canceled or returned, for a captured payment.
func (o *Order) Refund(now time.Time) error {
	if o.Status != OrderCanceled && o.Status != OrderReturned {
		return errors.Wrapf(ErrInvalidTransition, "order %s cannot be refunded from %s", o.OrderNumber, o.Status)
	}
	if o.PaymentStatus == PaymentRefunded {
		return errors.Wrapf(ErrAlreadyRefunded, "order %s", o.OrderNumber)
	}
	if o.PaymentStatus != PaymentPaid {
		return errors.Wrapf(ErrNothingToRefund, "order %s", o.OrderNumber)
	}
	o.PaymentStatus = PaymentRefunded
	o.UpdatedAt = now
	return nil
}

type OrderItemResponse struct {
	VariantID   uuid.UUID       `json:"variant_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	Image       string          `json:"image"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	FinalPrice  decimal.Decimal `json:"final_price"`
}

type OrderResponse struct {
	ID                uuid.UUID           `json:"id"`
	OrderNumber       string              `json:"order_number"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	Discount          decimal.Decimal     `json:"discount"`
	CouponDiscount    decimal.Decimal     `json:"coupon_discount"`
	OfferDiscount     decimal.Decimal     `json:"offer_discount"`
	ShippingCharge    decimal.Decimal     `json:"shipping_charge"`
	Tax               decimal.Decimal     `json:"tax"`
	Total             decimal.Decimal     `json:"total"`
	AppliedCouponCode string              `json:"applied_coupon_code,omitempty"`
	Items             []OrderItemResponse `json:"items"`
	PaymentMethod     PaymentMethod       `json:"payment_method"`
	PaymentStatus     PaymentStatus       `json:"payment_status"`
	OrderStatus       OrderStatus         `json:"order_status"`
	PlacedAt          time.Time           `json:"placed_at"`
}

func (o *Order) Response() *OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			VariantID:   it.VariantID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			VariantName: it.VariantName,
			Image:       it.Image,
			Quantity:    it.Quantity,
			Price:       it.Price,
			Discount:    it.Discount,
			FinalPrice:  it.FinalPrice,
		})
	}
	return &OrderResponse{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		Subtotal:          o.Pricing.Subtotal,
		Discount:          o.Pricing.ProductDiscount,
		CouponDiscount:    o.Pricing.CouponDiscount,
		OfferDiscount:     o.Pricing.OfferDiscount,
		ShippingCharge:    o.Pricing.ShippingCharge,
		Tax:               o.Pricing.Tax,
		Total:             o.Pricing.Total,
		AppliedCouponCode: o.AppliedCouponCode,
		Items:             items,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     o.PaymentStatus,
		OrderStatus:       o.Status,
		PlacedAt:          o.PlacedAt,
	}
}
