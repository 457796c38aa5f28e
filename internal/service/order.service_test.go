package service_test

import (
	"context"
	"testing"

	"snapcart/internal/database/dbtest"
	"snapcart/internal/domain"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedGateway(outcome payment.Outcome) payment.Gateway {
	return payment.NewMemoryGateway(payment.WithOutcome(func() payment.Outcome { return outcome }))
}

func TestOrderLifecycle(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	place := func(t *testing.T, method domain.PaymentMethod) (*domain.OrderResponse, uuid.UUID) {
		t.Helper()
		s := e.shopperWithShirts(t)
		if method == domain.PaymentWallet {
			_, err := e.wallets.TopUp(ctx, s.CustomerID, decimal.NewFromInt(1000), "")
			require.NoError(t, err)
		}
		resp, err := e.checkout.Commit(ctx, commitReq(s, method, ""))
		require.NoError(t, err)
		return resp, s.CustomerID
	}

	t.Run("return must complete before refund", func(t *testing.T) {
		resp, customerID := place(t, domain.PaymentWallet)

		_, err := e.orders.StartProcessing(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.Deliver(ctx, resp.ID)
		require.NoError(t, err)

		o, err := e.orders.RequestReturn(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderReturnRequested, o.Status)

		_, err = e.orders.RefundPayment(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = e.orders.ApproveReturn(ctx, resp.ID)
		require.NoError(t, err)
		o, err = e.orders.RefundPayment(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentRefunded, o.PaymentStatus)

		_, err = e.orders.RefundPayment(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)

		w, err := e.wallets.GetWallet(ctx, customerID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(w.Balance))
		assert.NoError(t, e.wallets.VerifyLedger(ctx, customerID))
	})

	t.Run("delivery bonus is granted once", func(t *testing.T) {
		resp, customerID := place(t, domain.PaymentCOD)

		_, err := e.orders.StartProcessing(ctx, resp.ID)
		require.NoError(t, err)
		o, err := e.orders.Deliver(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
		require.NotNil(t, o.DeliveredAt)

		_, err = e.orders.Deliver(ctx, resp.ID)
		require.NoError(t, err)

		credits, err := e.repos.Customers.TryOnCredits(ctx, customerID)
		require.NoError(t, err)
		assert.Equal(t, checkoutCfg.DeliveryTryOnBonus, credits)

		stored, err := e.orders.GetOrder(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderDelivered, stored.Status)
	})

	t.Run("refund of a cash order creates the wallet", func(t *testing.T) {
		resp, customerID := place(t, domain.PaymentCOD)

		_, err := e.orders.StartProcessing(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.Deliver(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.RequestReturn(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.ApproveReturn(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.RefundPayment(ctx, resp.ID)
		require.NoError(t, err)

		w, err := e.wallets.GetWallet(ctx, customerID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(900).Equal(w.Balance))
	})

	t.Run("unpaid cancel has nothing to refund", func(t *testing.T) {
		resp, _ := place(t, domain.PaymentCOD)

		o, err := e.orders.Cancel(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCanceled, o.Status)
		require.NotNil(t, o.CanceledAt)

		_, err = e.orders.Cancel(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = e.orders.RefundPayment(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrNothingToRefund)
	})

	t.Run("deny return cancels", func(t *testing.T) {
		resp, _ := place(t, domain.PaymentCOD)

		_, err := e.orders.DenyReturn(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = e.orders.StartProcessing(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.Deliver(ctx, resp.ID)
		require.NoError(t, err)
		_, err = e.orders.RequestReturn(ctx, resp.ID)
		require.NoError(t, err)
		o, err := e.orders.DenyReturn(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCanceled, o.Status)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := e.orders.GetOrder(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		_, err = e.orders.Cancel(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestPayOnline(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	placeOnline := func(t *testing.T) (*domain.OrderResponse, uuid.UUID) {
		t.Helper()
		s := e.shopperWithShirts(t)
		resp, err := e.checkout.Commit(ctx, commitReq(s, domain.PaymentOnline, ""))
		require.NoError(t, err)
		return resp, s.CustomerID
	}
	ordersWith := func(outcome payment.Outcome) service.OrderService {
		return service.NewOrderService(e.db, e.repos, fixedGateway(outcome), checkoutCfg)
	}

	t.Run("captured charge marks paid and clears the cart", func(t *testing.T) {
		resp, customerID := placeOnline(t)
		orders := ordersWith(payment.OutcomeSuccess)

		o, err := orders.PayOnline(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
		assert.Zero(t, e.cartSize(t, customerID))

		_, err = orders.PayOnline(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("declined charge leaves the order pending", func(t *testing.T) {
		resp, customerID := placeOnline(t)

		_, err := ordersWith(payment.OutcomeDeclined).PayOnline(ctx, resp.ID)
		assert.ErrorIs(t, err, payment.ErrCardDeclined)

		o, err := e.orders.GetOrder(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
		assert.Equal(t, 1, e.cartSize(t, customerID))
	})

	t.Run("declined card can be retried", func(t *testing.T) {
		resp, customerID := placeOnline(t)
		declines := 1
		gateway := payment.NewMemoryGateway(payment.WithOutcome(func() payment.Outcome {
			if declines > 0 {
				declines--
				return payment.OutcomeDeclined
			}
			return payment.OutcomeSuccess
		}))
		orders := service.NewOrderService(e.db, e.repos, gateway, checkoutCfg)

		_, err := orders.PayOnline(ctx, resp.ID)
		assert.ErrorIs(t, err, payment.ErrCardDeclined)

		o, err := orders.PayOnline(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
		assert.Zero(t, e.cartSize(t, customerID))
	})

	t.Run("only online orders go through the gateway", func(t *testing.T) {
		s := e.shopperWithShirts(t)
		resp, err := e.checkout.Commit(ctx, commitReq(s, domain.PaymentCOD, ""))
		require.NoError(t, err)

		_, err = e.orders.PayOnline(ctx, resp.ID)
		assert.ErrorIs(t, err, domain.ErrUnsupportedPaymentMethod)
	})
}

func TestWalletAndCouponServices(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	t.Run("top up", func(t *testing.T) {
		s := dbtest.SeedShopper(t, e.repos).CustomerID

		_, err := e.wallets.TopUp(ctx, s, decimal.Zero, "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)

		_, err = e.wallets.GetWallet(ctx, s)
		assert.ErrorIs(t, err, domain.ErrWalletNotFound)

		_, err = e.wallets.TopUp(ctx, s, decimal.RequireFromString("150.25"), "")
		require.NoError(t, err)
		w, err := e.wallets.TopUp(ctx, s, decimal.NewFromInt(50), "gift")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("200.25").Equal(w.Balance))
		assert.NoError(t, e.wallets.VerifyLedger(ctx, s))
	})

	t.Run("coupon admin", func(t *testing.T) {
		code := uniqueCode("ADMIN")
		c, err := e.coupons.CreateCoupon(ctx, code, percentOff("10", "0", ""))
		require.NoError(t, err)
		assert.Equal(t, domain.CouponActive, c.Status)

		_, err = e.coupons.CreateCoupon(ctx, code, percentOff("10", "0", ""))
		assert.ErrorIs(t, err, domain.ErrInvalidCoupon)

		c, err = e.coupons.Deactivate(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, domain.CouponInactive, c.Status)
		c, err = e.coupons.Activate(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, domain.CouponActive, c.Status)

		d := percentOff("25", "100", "40")
		c, err = e.coupons.UpdateDetails(ctx, code, d)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(25).Equal(c.DiscountValue))

		c, err = e.coupons.Expire(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, domain.CouponExpired, c.Status)
		_, err = e.coupons.Activate(ctx, code)
		assert.ErrorIs(t, err, domain.ErrCouponExpired)

		_, err = e.coupons.Activate(ctx, "MISSING")
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})

	t.Run("preview reserves nothing", func(t *testing.T) {
		s := e.shopperWithShirts(t)
		c := dbtest.SeedCoupon(t, e.repos, uniqueCode("PEEK"), percentOff("10", "500", "50"))

		p, err := e.coupons.PreviewCoupon(ctx, s.CustomerID, c.Code)
		require.NoError(t, err)
		assert.True(t, p.Validation.Valid)
		assert.True(t, decimal.NewFromInt(850).Equal(p.Pricing.Total))

		stored, err := e.repos.Coupons.FindByCode(ctx, nil, c.Code)
		require.NoError(t, err)
		assert.Zero(t, stored.UsedCount)
	})
}
