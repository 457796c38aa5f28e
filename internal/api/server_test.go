package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snapcart/internal/domain"
	"snapcart/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCheckout struct {
	got  service.CommitRequest
	resp *domain.OrderResponse
	err  error
}

func (f *fakeCheckout) Commit(_ context.Context, req service.CommitRequest) (*domain.OrderResponse, error) {
	f.got = req
	return f.resp, f.err
}

// fakeOrders embeds the interface so unused methods panic if reached.
type fakeOrders struct {
	service.OrderService
	order *domain.Order
	err   error

	actionErr error
	acted     []string
}

func (f *fakeOrders) GetOrder(context.Context, uuid.UUID) (*domain.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) act(name string) (*domain.Order, error) {
	f.acted = append(f.acted, name)
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return f.order, nil
}

func (f *fakeOrders) Cancel(context.Context, uuid.UUID) (*domain.Order, error) {
	return f.act("cancel")
}

func (f *fakeOrders) PayOnline(context.Context, uuid.UUID) (*domain.Order, error) {
	return f.act("pay")
}

func (f *fakeOrders) RequestReturn(context.Context, uuid.UUID) (*domain.Order, error) {
	return f.act("return")
}

func (f *fakeOrders) Deliver(context.Context, uuid.UUID) (*domain.Order, error) {
	return f.act("deliver")
}

type fakeCoupons struct {
	service.CouponService
	preview *service.CouponPreview
	err     error
}

func (f *fakeCoupons) PreviewCoupon(context.Context, uuid.UUID, string) (*service.CouponPreview, error) {
	return f.preview, f.err
}

type fakeWallets struct {
	service.WalletService
	wallet *domain.Wallet
	err    error
}

func (f *fakeWallets) TopUp(_ context.Context, _ uuid.UUID, amount decimal.Decimal, _ string) (*domain.Wallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.wallet.Balance = f.wallet.Balance.Add(amount)
	return f.wallet, nil
}

type fakeDB struct{ status string }

func (f fakeDB) Health() map[string]string { return map[string]string{"status": f.status} }
func (f fakeDB) Close() error              { return nil }

type fixture struct {
	checkout *fakeCheckout
	orders   *fakeOrders
	coupons  *fakeCoupons
	wallets  *fakeWallets
	handler  http.Handler
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		checkout: &fakeCheckout{},
		orders:   &fakeOrders{},
		coupons:  &fakeCoupons{},
		wallets:  &fakeWallets{wallet: domain.NewWallet(uuid.New(), time.Now())},
	}
	f.handler = NewServer(f.checkout, f.orders, f.coupons, f.wallets, fakeDB{status: "up"}, opts...).Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, customer uuid.UUID, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if customer != uuid.Nil {
		req.Header.Set(CustomerHeader, customer.String())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnsupportedCheckoutSource, http.StatusNotImplemented},
		{errors.Wrap(domain.ErrCouponNotFound, "SAVE10"), http.StatusNotFound},
		{domain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{domain.ErrConcurrentModification, http.StatusConflict},
		{&domain.CouponInvalidError{Code: "X", Reason: domain.RejectMinAmount}, http.StatusUnprocessableEntity},
		{domain.ErrEmptyCart, http.StatusUnprocessableEntity},
		{&domain.PersistenceError{Op: "commit", Err: errors.New("broken pipe")}, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), "%v", tt.err)
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	customer := uuid.New()
	addressID := uuid.New()

	t.Run("requires a customer", func(t *testing.T) {
		f := newFixture()
		w := f.do(t, http.MethodPost, "/api/checkout", uuid.Nil, map[string]any{}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("defaults source and forwards the idempotency key", func(t *testing.T) {
		f := newFixture()
		f.checkout.resp = &domain.OrderResponse{ID: uuid.New(), OrderNumber: "SC-1", Total: decimal.NewFromInt(850)}

		w := f.do(t, http.MethodPost, "/api/checkout", customer, map[string]any{
			"shipping_address_id": addressID,
			"payment_method":      "cod",
			"coupon_code":         "save10",
		}, map[string]string{IdempotencyHeader: "abc"})

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, domain.SourceCart, f.checkout.got.Source)
		assert.Equal(t, "abc", f.checkout.got.IdempotencyKey)
		assert.Equal(t, customer, f.checkout.got.CustomerID)
		assert.Equal(t, addressID, f.checkout.got.ShippingAddressID)
		assert.Equal(t, "save10", f.checkout.got.CouponCode)
		assert.Equal(t, "SC-1", decode(t, w)["order_number"])
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture()
		w := f.do(t, http.MethodPost, "/api/checkout", customer, map[string]any{"payment_method": "cod"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("coupon rejection carries the reason", func(t *testing.T) {
		f := newFixture()
		f.checkout.err = &domain.CouponInvalidError{
			Code:    "FLAT20",
			Reason:  domain.RejectMinAmount,
			Message: "minimum cart amount of 1000.00 required",
		}

		w := f.do(t, http.MethodPost, "/api/checkout", customer, map[string]any{
			"shipping_address_id": addressID,
			"payment_method":      "cod",
		}, nil)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode(t, w)
		assert.Equal(t, string(domain.RejectMinAmount), body["reason"])
		assert.Equal(t, "minimum cart amount of 1000.00 required", body["error"])
	})

	t.Run("conflicts are retriable", func(t *testing.T) {
		f := newFixture()
		f.checkout.err = errors.Wrap(domain.ErrConcurrentModification, "coupon SAVE10 changed during checkout")

		w := f.do(t, http.MethodPost, "/api/checkout", customer, map[string]any{
			"shipping_address_id": addressID,
			"payment_method":      "wallet",
		}, nil)

		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, true, decode(t, w)["retriable"])
	})

	t.Run("storage failures are not leaked", func(t *testing.T) {
		f := newFixture()
		f.checkout.err = &domain.PersistenceError{Op: "commit order", Err: errors.New("pq: password=secret")}

		w := f.do(t, http.MethodPost, "/api/checkout", customer, map[string]any{
			"shipping_address_id": addressID,
			"payment_method":      "cod",
		}, nil)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal error", decode(t, w)["error"])
	})
}

func TestOrderEndpoints(t *testing.T) {
	customer := uuid.New()
	order := &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   "SC-2",
		CustomerID:    customer,
		Status:        domain.OrderPending,
		PaymentStatus: domain.PaymentPending,
		PaymentMethod: domain.PaymentCOD,
	}

	t.Run("owner sees the order", func(t *testing.T) {
		f := newFixture()
		f.orders.order = order

		w := f.do(t, http.MethodGet, "/api/orders/"+order.ID.String(), customer, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "SC-2", decode(t, w)["order_number"])
	})

	t.Run("other customers get not found", func(t *testing.T) {
		f := newFixture()
		f.orders.order = order

		w := f.do(t, http.MethodGet, "/api/orders/"+order.ID.String(), uuid.New(), nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		f := newFixture()
		w := f.do(t, http.MethodGet, "/api/orders/not-a-uuid", customer, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid transition is a conflict", func(t *testing.T) {
		f := newFixture()
		f.orders.order = order
		f.orders.actionErr = errors.Wrap(domain.ErrInvalidTransition, "delivered -> canceled")

		w := f.do(t, http.MethodPost, "/api/orders/"+order.ID.String()+"/cancel", customer, nil, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("owner can cancel", func(t *testing.T) {
		f := newFixture()
		f.orders.order = order

		w := f.do(t, http.MethodPost, "/api/orders/"+order.ID.String()+"/cancel", customer, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"cancel"}, f.orders.acted)
	})

	t.Run("stranger cannot act on the order", func(t *testing.T) {
		stranger := uuid.New()
		for _, action := range []string{"cancel", "pay", "return"} {
			f := newFixture()
			f.orders.order = order

			w := f.do(t, http.MethodPost, "/api/orders/"+order.ID.String()+"/"+action, stranger, nil, nil)
			assert.Equal(t, http.StatusNotFound, w.Code, action)
			assert.Empty(t, f.orders.acted, action)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		f := newFixture()
		f.orders.err = errors.Wrapf(domain.ErrOrderNotFound, "%s", order.ID)

		w := f.do(t, http.MethodPost, "/api/orders/"+order.ID.String()+"/pay", customer, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, f.orders.acted)
	})
}

func TestAdminGuard(t *testing.T) {
	order := &domain.Order{ID: uuid.New(), CustomerID: uuid.New(), Status: domain.OrderDelivered}
	path := "/admin/orders/" + order.ID.String() + "/deliver"

	t.Run("open without a guard", func(t *testing.T) {
		f := newFixture()
		f.orders.order = order

		w := f.do(t, http.MethodPost, path, uuid.Nil, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("guard rejects before the handler", func(t *testing.T) {
		f := newFixture(WithAdminGuard(func(c *gin.Context) {
			if c.GetHeader("X-Admin-Token") != "letmein" {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
		}))
		f.orders.order = order

		w := f.do(t, http.MethodPost, path, uuid.Nil, nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, f.orders.acted)

		w = f.do(t, http.MethodPost, path, uuid.Nil, nil, map[string]string{"X-Admin-Token": "letmein"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"deliver"}, f.orders.acted)
	})

	t.Run("guard leaves customer routes alone", func(t *testing.T) {
		f := newFixture(WithAdminGuard(func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) }))
		f.orders.order = order

		w := f.do(t, http.MethodGet, "/api/orders/"+order.ID.String(), order.CustomerID, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCouponAndWalletEndpoints(t *testing.T) {
	customer := uuid.New()

	t.Run("preview", func(t *testing.T) {
		f := newFixture()
		f.coupons.preview = &service.CouponPreview{
			Pricing: domain.OrderPricingSnapshot{
				Subtotal:        decimal.NewFromInt(1000),
				ProductDiscount: decimal.NewFromInt(100),
				CouponDiscount:  decimal.NewFromInt(50),
				Total:           decimal.NewFromInt(850),
			},
			Validation: domain.CouponValidation{Valid: true},
		}

		w := f.do(t, http.MethodPost, "/api/coupons/preview", customer, map[string]any{"code": "SAVE10"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "850", body["total"])
	})

	t.Run("top up", func(t *testing.T) {
		f := newFixture()
		w := f.do(t, http.MethodPost, "/api/wallet/topup", customer, map[string]any{"amount": "125.50"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "125.5", decode(t, w)["balance"])
	})

	t.Run("top up rejects non-positive amounts", func(t *testing.T) {
		f := newFixture()
		f.wallets.err = domain.ErrInvalidAmount
		w := f.do(t, http.MethodPost, "/api/wallet/topup", customer, map[string]any{"amount": "0"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture()
	w := f.do(t, http.MethodGet, "/health", uuid.Nil, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewServer(f.checkout, f.orders, f.coupons, f.wallets, fakeDB{status: "down"}).Routes()
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
