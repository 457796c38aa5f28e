package worker

import (
	"context"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/metrics"
	"snapcart/internal/repo"
	"snapcart/internal/service"

	"github.com/rs/zerolog/log"
)

// ReconciliationWorker repairs state that a commit could not finish inline:
// carts left uncleared, gateway payments whose response was lost, and
// coupons past their end date.
type ReconciliationWorker struct {
	repos   *repo.Repos
	orders  service.OrderService
	gateway payment.Gateway
	cfg     config.Worker
	clock   func() time.Time
}

type Option func(*ReconciliationWorker)

func WithClock(clock func() time.Time) Option {
	return func(rw *ReconciliationWorker) { rw.clock = clock }
}

func NewReconciliationWorker(
	repos *repo.Repos,
	orders service.OrderService,
	gateway payment.Gateway,
	cfg config.Worker,
	opts ...Option,
) *ReconciliationWorker {
	rw := &ReconciliationWorker{
		repos:   repos,
		orders:  orders,
		gateway: gateway,
		cfg:     cfg,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", rw.cfg.Interval).Msg("reconciliation worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciliation worker stopped")
			return
		case <-ticker.C:
			if err := rw.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("reconciliation failed")
			}
		}
	}
}

// RunOnce runs every pass and returns the first error. A failing pass does
// not stop the others.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) error {
	var first error
	for _, pass := range []func(context.Context) error{
		rw.retryCartClears,
		rw.settleGatewayOrders,
		rw.expireCoupons,
	} {
		if err := pass(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (rw *ReconciliationWorker) retryCartClears(ctx context.Context) error {
	pending, err := rw.repos.Carts.PendingClears(ctx, rw.cfg.CartClearMaxAttempts, rw.cfg.BatchSize)
	if err != nil {
		return err
	}

	cleared := 0
	for _, req := range pending {
		if err := rw.repos.Carts.ClearCart(ctx, req.OrderID, rw.clock()); err != nil {
			log.Warn().Err(err).Str("order_id", req.OrderID.String()).Int("attempts", req.Attempts+1).Msg("cart clear retry failed")
			if recErr := rw.repos.Carts.RecordClearFailure(ctx, req.OrderID, err); recErr != nil {
				log.Error().Err(recErr).Msg("record cart clear failure")
			}
			continue
		}
		cleared++
	}
	if cleared > 0 {
		log.Info().Int("count", cleared).Msg("cleared carts")
		metrics.RecordReconciled("cart_cleared", cleared)
	}
	return nil
}

// settleGatewayOrders asks the gateway about online orders still pending.
// Captured payments are confirmed; orders unpaid past the abandon window are
// canceled so they stop showing as open.
func (rw *ReconciliationWorker) settleGatewayOrders(ctx context.Context) error {
	now := rw.clock()
	stuck, err := rw.repos.Orders.FindStuckGatewayOrders(ctx, now.Add(-rw.cfg.GatewayStuckAfter), rw.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}
	log.Info().Int("count", len(stuck)).Msg("found pending gateway orders")

	abandonBefore := now.Add(-rw.cfg.GatewayAbandonAfter)
	for _, order := range stuck {
		paid, err := rw.gateway.CheckStatus(ctx, order.IdempotencyKey)
		if err != nil {
			log.Warn().Err(err).Str("order", order.OrderNumber).Msg("gateway status check failed")
			continue
		}

		switch {
		case paid:
			if _, err := rw.orders.ConfirmPayment(ctx, order.ID); err != nil {
				log.Error().Err(err).Str("order", order.OrderNumber).Msg("confirm captured payment")
				continue
			}
			log.Warn().Str("order", order.OrderNumber).Msg("captured payment was unrecorded, marked paid")
			metrics.RecordReconciled("payment_confirmed", 1)
		case order.PlacedAt.Before(abandonBefore):
			if _, err := rw.orders.Cancel(ctx, order.ID); err != nil {
				log.Error().Err(err).Str("order", order.OrderNumber).Msg("cancel abandoned order")
				continue
			}
			log.Info().Str("order", order.OrderNumber).Msg("abandoned gateway order canceled")
			metrics.RecordReconciled("order_abandoned", 1)
		}
	}
	return nil
}

func (rw *ReconciliationWorker) expireCoupons(ctx context.Context) error {
	n, err := rw.repos.Coupons.ExpireOverdue(ctx, rw.clock())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("expired coupons")
		metrics.RecordReconciled("coupon_expired", int(n))
	}
	return nil
}
