package api

import (
	"context"
	"net/http"
	"time"

	"snapcart/internal/domain"
	"snapcart/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const customerKey = "customerID"

func requireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(CustomerHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed " + CustomerHeader})
			return
		}
		c.Set(customerKey, id)
		c.Next()
	}
}

func customerID(c *gin.Context) uuid.UUID {
	return c.MustGet(customerKey).(uuid.UUID)
}

type commitBody struct {
	Source            domain.CheckoutSource `json:"source"`
	CouponCode        string                `json:"coupon_code"`
	ShippingAddressID uuid.UUID             `json:"shipping_address_id" binding:"required"`
	PaymentMethod     domain.PaymentMethod  `json:"payment_method" binding:"required"`
}

func (s *Server) commitHandler(c *gin.Context) {
	var body commitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Source == "" {
		body.Source = domain.SourceCart
	}

	resp, err := s.checkout.Commit(c.Request.Context(), service.CommitRequest{
		CustomerID:        customerID(c),
		Source:            body.Source,
		CouponCode:        body.CouponCode,
		ShippingAddressID: body.ShippingAddressID,
		PaymentMethod:     body.PaymentMethod,
		IdempotencyKey:    c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func orderIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getOrderHandler(c *gin.Context) {
	id, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, ok := s.ownOrder(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order.Response())
}

// ownOrder loads an order of the calling customer. Orders of anyone else are
// reported as missing.
func (s *Server) ownOrder(c *gin.Context, id uuid.UUID) (*domain.Order, bool) {
	order, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if order.CustomerID != customerID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrOrderNotFound.Error()})
		return nil, false
	}
	return order, true
}

// orderAction adapts an OrderService transition to a handler.
func (s *Server) orderAction(fn func(context.Context, uuid.UUID) (*domain.Order, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderIDParam(c)
		if !ok {
			return
		}
		order, err := fn(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order.Response())
	}
}

// customerOrderAction is orderAction restricted to the caller's own orders.
func (s *Server) customerOrderAction(fn func(context.Context, uuid.UUID) (*domain.Order, error)) gin.HandlerFunc {
	action := s.orderAction(fn)
	return func(c *gin.Context) {
		id, ok := orderIDParam(c)
		if !ok {
			return
		}
		if _, ok := s.ownOrder(c, id); !ok {
			return
		}
		action(c)
	}
}

type previewBody struct {
	Code string `json:"code" binding:"required"`
}

type previewResponse struct {
	Valid          bool                   `json:"valid"`
	Reason         domain.CouponRejection `json:"reason,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Subtotal       decimal.Decimal        `json:"subtotal"`
	Discount       decimal.Decimal        `json:"discount"`
	CouponDiscount decimal.Decimal        `json:"coupon_discount"`
	Total          decimal.Decimal        `json:"total"`
}

func (s *Server) previewCouponHandler(c *gin.Context) {
	var body previewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	preview, err := s.coupons.PreviewCoupon(c.Request.Context(), customerID(c), body.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, previewResponse{
		Valid:          preview.Validation.Valid,
		Reason:         preview.Validation.Reason,
		Message:        preview.Validation.Message,
		Subtotal:       preview.Pricing.Subtotal,
		Discount:       preview.Pricing.ProductDiscount,
		CouponDiscount: preview.Pricing.CouponDiscount,
		Total:          preview.Pricing.Total,
	})
}

type couponBody struct {
	Code            string              `json:"code"`
	DiscountType    domain.DiscountType `json:"discount_type" binding:"required"`
	DiscountValue   decimal.Decimal     `json:"discount_value"`
	MinAmount       decimal.Decimal     `json:"min_amount"`
	MaxDiscount     decimal.NullDecimal `json:"max_discount"`
	StartsAt        time.Time           `json:"starts_at" binding:"required"`
	EndsAt          time.Time           `json:"ends_at" binding:"required"`
	UsageLimit      *int                `json:"usage_limit"`
	MaxUsagePerUser int                 `json:"max_usage_per_user"`
	ApplicableTo    domain.CouponScope  `json:"applicable_to"`
	Stackable       bool                `json:"stackable"`
}

func (b couponBody) details() domain.CouponDetails {
	return domain.CouponDetails{
		DiscountType:    b.DiscountType,
		DiscountValue:   b.DiscountValue,
		MinAmount:       b.MinAmount,
		MaxDiscount:     b.MaxDiscount,
		StartsAt:        b.StartsAt,
		EndsAt:          b.EndsAt,
		UsageLimit:      b.UsageLimit,
		MaxUsagePerUser: b.MaxUsagePerUser,
		ApplicableTo:    b.ApplicableTo,
		Stackable:       b.Stackable,
	}
}

type couponResponse struct {
	ID            uuid.UUID           `json:"id"`
	Code          string              `json:"code"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	Status        domain.CouponStatus `json:"status"`
	UsageLimit    *int                `json:"usage_limit,omitempty"`
	UsedCount     int                 `json:"used_count"`
	StartsAt      time.Time           `json:"starts_at"`
	EndsAt        time.Time           `json:"ends_at"`
}

func toCouponResponse(cp *domain.Coupon) couponResponse {
	return couponResponse{
		ID:            cp.ID,
		Code:          cp.Code,
		DiscountType:  cp.DiscountType,
		DiscountValue: cp.DiscountValue,
		Status:        cp.Status,
		UsageLimit:    cp.UsageLimit,
		UsedCount:     cp.UsedCount,
		StartsAt:      cp.StartsAt,
		EndsAt:        cp.EndsAt,
	}
}

func (s *Server) createCouponHandler(c *gin.Context) {
	var body couponBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coupon, err := s.coupons.CreateCoupon(c.Request.Context(), body.Code, body.details())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCouponResponse(coupon))
}

func (s *Server) updateCouponHandler(c *gin.Context) {
	var body couponBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coupon, err := s.coupons.UpdateDetails(c.Request.Context(), c.Param("code"), body.details())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCouponResponse(coupon))
}

func (s *Server) couponAction(fn func(context.Context, string) (*domain.Coupon, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		coupon, err := fn(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toCouponResponse(coupon))
	}
}

type walletResponse struct {
	ID       uuid.UUID       `json:"id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	IsActive bool            `json:"is_active"`
}

func toWalletResponse(w *domain.Wallet) walletResponse {
	return walletResponse{ID: w.ID, Balance: w.Balance, Currency: w.Currency, IsActive: w.IsActive}
}

func (s *Server) getWalletHandler(c *gin.Context) {
	w, err := s.wallets.GetWallet(c.Request.Context(), customerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWalletResponse(w))
}

type topUpBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (s *Server) topUpHandler(c *gin.Context) {
	var body topUpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := s.wallets.TopUp(c.Request.Context(), customerID(c), body.Amount, body.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWalletResponse(w))
}
