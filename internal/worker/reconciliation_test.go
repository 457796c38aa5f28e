package worker_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/database/dbtest"
	"snapcart/internal/domain"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/repo"
	"snapcart/internal/service"
	"snapcart/internal/worker"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workerCfg = config.Worker{
	Interval:             time.Second,
	GatewayStuckAfter:    time.Minute,
	GatewayAbandonAfter:  24 * time.Hour,
	CartClearMaxAttempts: 5,
	BatchSize:            100,
}

func TestReconciliationWorker(t *testing.T) {
	db := dbtest.New(t)
	repos := repo.NewRepos(db)
	checkout := service.NewCheckoutService(db, repos, config.Checkout{IdempotencyWindow: time.Minute})
	ctx := context.Background()

	placeOnline := func(t *testing.T) (*domain.OrderResponse, uuid.UUID) {
		t.Helper()
		variantID := dbtest.SeedVariant(t, repos, "250", "")
		s := dbtest.SeedShopper(t, repos)
		dbtest.AddToCart(t, repos, s.CustomerID, variantID, 1, time.Now().Add(-time.Minute))
		resp, err := checkout.Commit(ctx, service.CommitRequest{
			CustomerID:        s.CustomerID,
			Source:            domain.SourceCart,
			ShippingAddressID: s.AddressID,
			PaymentMethod:     domain.PaymentOnline,
		})
		require.NoError(t, err)
		return resp, s.CustomerID
	}
	cartSize := func(t *testing.T, customerID uuid.UUID) int {
		t.Helper()
		items, err := repos.Carts.FetchCartItemsWithPricing(ctx, customerID)
		require.NoError(t, err)
		return len(items)
	}
	newWorker := func(gateway payment.Gateway, at time.Time) (*worker.ReconciliationWorker, service.OrderService) {
		orders := service.NewOrderService(db, repos, gateway, config.Checkout{})
		return worker.NewReconciliationWorker(repos, orders, gateway, workerCfg, worker.WithClock(func() time.Time { return at })), orders
	}

	t.Run("lost gateway response is confirmed", func(t *testing.T) {
		resp, customerID := placeOnline(t)
		gateway := payment.NewMemoryGateway(payment.WithOutcome(func() payment.Outcome { return payment.OutcomeLostResponse }))
		rw, orders := newWorker(gateway, time.Now().Add(time.Hour))

		_, err := orders.PayOnline(ctx, resp.ID)
		require.True(t, errors.Is(err, payment.ErrTimeout))
		assert.Equal(t, 1, cartSize(t, customerID))

		require.NoError(t, rw.RunOnce(ctx))

		o, err := orders.GetOrder(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, domain.OrderPending, o.Status)
		assert.Zero(t, cartSize(t, customerID))
	})

	t.Run("recent gateway orders are left alone", func(t *testing.T) {
		resp, _ := placeOnline(t)
		rw, orders := newWorker(payment.NewMemoryGateway(), time.Now())

		require.NoError(t, rw.RunOnce(ctx))

		o, err := orders.GetOrder(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderPending, o.Status)
		assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	})

	t.Run("abandoned gateway order is canceled", func(t *testing.T) {
		resp, customerID := placeOnline(t)
		rw, orders := newWorker(payment.NewMemoryGateway(), time.Now().Add(48*time.Hour))

		require.NoError(t, rw.RunOnce(ctx))

		o, err := orders.GetOrder(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCanceled, o.Status)
		assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
		// nothing was paid, so the cart stays for another attempt
		assert.Equal(t, 1, cartSize(t, customerID))
	})

	t.Run("failed cart clear is retried", func(t *testing.T) {
		variantID := dbtest.SeedVariant(t, repos, "100", "")
		s := dbtest.SeedShopper(t, repos)
		dbtest.AddToCart(t, repos, s.CustomerID, variantID, 3, time.Now().Add(-time.Minute))

		items, err := repos.Carts.FetchCartItemsWithPricing(ctx, s.CustomerID)
		require.NoError(t, err)
		addr, err := repos.Customers.FindAddress(ctx, s.CustomerID, s.AddressID)
		require.NoError(t, err)
		order, err := domain.NewOrder(domain.NewOrderParams{
			CustomerID:     s.CustomerID,
			IdempotencyKey: uuid.NewString(),
			Items:          items,
			Pricing:        service.CalculatePricing(items, nil, 0, time.Now()).Snapshot,
			Address:        *addr,
			PaymentMethod:  domain.PaymentCOD,
		}, time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
			if err := repos.Orders.CreateOrder(ctx, tx, order); err != nil {
				return err
			}
			return repos.Carts.EnqueueClear(ctx, tx, s.CustomerID, order.ID, time.Now())
		}))
		require.NoError(t, repos.Carts.RecordClearFailure(ctx, order.ID, errors.New("connection reset")))
		assert.Equal(t, 1, cartSize(t, s.CustomerID))

		rw, _ := newWorker(payment.NewMemoryGateway(), time.Now())
		require.NoError(t, rw.RunOnce(ctx))

		assert.Zero(t, cartSize(t, s.CustomerID))
		pending, err := repos.Carts.PendingClears(ctx, workerCfg.CartClearMaxAttempts, workerCfg.BatchSize)
		require.NoError(t, err)
		for _, p := range pending {
			assert.NotEqual(t, order.ID, p.OrderID)
		}
	})

	t.Run("overdue coupons expire", func(t *testing.T) {
		c := dbtest.SeedCoupon(t, repos, "END-"+uuid.NewString()[:6], domain.CouponDetails{
			DiscountType:  domain.DiscountFixed,
			DiscountValue: decimal.NewFromInt(20),
			StartsAt:      time.Now().Add(-time.Hour),
			EndsAt:        time.Now().Add(time.Hour),
		})
		rw, _ := newWorker(payment.NewMemoryGateway(), time.Now().Add(2*time.Hour))

		require.NoError(t, rw.RunOnce(ctx))

		stored, err := repos.Coupons.FindByCode(ctx, nil, c.Code)
		require.NoError(t, err)
		assert.Equal(t, domain.CouponExpired, stored.Status)
	})
}
