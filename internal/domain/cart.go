package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutSource string

const (
	SourceCart   CheckoutSource = "cart"
	SourceBuyNow CheckoutSource = "buy_now"
)

// CartItemWithPricing is a cart line priced from the catalog at checkout time.
// It is never persisted; the order copies what it needs.
type CartItemWithPricing struct {
	VariantID       uuid.UUID
	ProductID       uuid.UUID
	Quantity        int
	BasePrice       decimal.Decimal
	DiscountPercent decimal.NullDecimal
	AddedAt         time.Time

	ProductName string
	VariantName string
	Image       string
}

type Address struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ShippingAddress is the copy of an Address stored on an order.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Snapshot() ShippingAddress {
	return ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}
