package service

import (
	"context"
	"database/sql"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/domain"
	"snapcart/internal/infrastructure/payment"
	"snapcart/internal/metrics"
	"snapcart/internal/repo"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type OrderService interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	StartProcessing(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	// Deliver grants the delivery bonus on the first call only.
	Deliver(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	RequestReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ApproveReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	DenyReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	// RefundPayment credits the order total back to the customer's wallet.
	RefundPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	// PayOnline charges the gateway for an online order. A gateway error
	// leaves the order pending for the reconciliation worker.
	PayOnline(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	// ConfirmPayment marks a gateway order paid and clears the cart.
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

type orderService struct {
	db      *sql.DB
	repos   *repo.Repos
	gateway payment.Gateway
	cfg     config.Checkout
	clock   func() time.Time
}

func NewOrderService(
	db *sql.DB,
	repos *repo.Repos,
	gateway payment.Gateway,
	cfg config.Checkout,
) OrderService {
	return &orderService{
		db:      db,
		repos:   repos,
		gateway: gateway,
		cfg:     cfg,
		clock:   time.Now,
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repos.Orders.FindById(ctx, nil, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "%s", orderID)
	}
	if err != nil {
		return nil, persistence("find order", err)
	}
	return order, nil
}

// mutation changes a locked order and reports whether it has to be saved.
type mutation func(tx *sql.Tx, o *domain.Order, now time.Time) (bool, error)

func (s *orderService) update(ctx context.Context, op string, orderID uuid.UUID, fn mutation) (order *domain.Order, err error) {
	defer func() { metrics.RecordOrderOperation(op, err == nil) }()

	now := s.clock()
	var stepErr error
	err = repo.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		stepErr = func() error {
			o, err := s.repos.Orders.FindByIdForUpdate(ctx, tx, orderID)
			if errors.Is(err, repo.ErrNotFound) {
				return errors.Wrapf(domain.ErrOrderNotFound, "%s", orderID)
			}
			if err != nil {
				return persistence("lock order", err)
			}
			prevStatus, prevPayment := o.Status, o.PaymentStatus

			changed, err := fn(tx, o, now)
			if err != nil {
				return err
			}
			order = o
			if !changed {
				return nil
			}
			if err := s.repos.Orders.UpdateOrderStatus(ctx, tx, o, prevStatus, prevPayment); err != nil {
				return persistence("save order", err)
			}
			return nil
		}()
		return stepErr
	})
	if err != nil && stepErr == nil {
		return nil, persistence(op, err)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("order", order.OrderNumber).Str("op", op).Str("status", string(order.Status)).Msg("order updated")
	return order, nil
}

func (s *orderService) StartProcessing(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "start_processing", orderID, func(_ *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		return true, o.StartProcessing(now)
	})
}

func (s *orderService) Deliver(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "deliver", orderID, func(tx *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		delivered, err := o.Deliver(now)
		if err != nil || !delivered {
			return false, err
		}
		if bonus := s.cfg.DeliveryTryOnBonus; bonus > 0 {
			if err := s.repos.Customers.GrantTryOnCredits(ctx, tx, o.CustomerID, bonus); err != nil {
				return false, persistence("grant try-on credits", err)
			}
		}
		return true, nil
	})
}

func (s *orderService) Cancel(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "cancel", orderID, func(_ *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		return true, o.Cancel(now)
	})
}

func (s *orderService) RequestReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "request_return", orderID, func(_ *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		return true, o.RequestReturn(now)
	})
}

func (s *orderService) ApproveReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "approve_return", orderID, func(_ *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		return true, o.ApproveReturn(now)
	})
}

func (s *orderService) DenyReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "deny_return", orderID, func(_ *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		return true, o.DenyReturn(now)
	})
}

func (s *orderService) RefundPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, "refund", orderID, func(tx *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		if err := o.Refund(now); err != nil {
			return false, err
		}
		amount := o.Pricing.Total
		if !amount.IsPositive() {
			return true, nil
		}

		wallet, err := s.repos.Wallets.EnsureForCustomer(ctx, tx, domain.NewWallet(o.CustomerID, now))
		if err != nil {
			return false, persistence("ensure wallet", err)
		}
		txn, err := wallet.Credit(amount, &o.ID, "Refund for order "+o.OrderNumber, now)
		if err != nil {
			return false, err
		}
		if err := s.repos.Wallets.ApplyTransaction(ctx, tx, wallet, txn); err != nil {
			return false, persistence("credit wallet", err)
		}
		return true, nil
	})
}

func (s *orderService) PayOnline(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != domain.PaymentOnline {
		return nil, errors.Wrapf(domain.ErrUnsupportedPaymentMethod, "order %s is paid by %s", order.OrderNumber, order.PaymentMethod)
	}
	if order.Status != domain.OrderPending || order.PaymentStatus != domain.PaymentPending {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "order %s is not awaiting payment", order.OrderNumber)
	}

	paid, err := s.gateway.Charge(ctx, order.Pricing.Total, order.IdempotencyKey)
	if err != nil {
		log.Warn().Err(err).Str("order", order.OrderNumber).Msg("gateway charge failed")
		return nil, errors.Wrapf(err, "charge order %s", order.OrderNumber)
	}
	if !paid {
		return nil, errors.Errorf("charge for order %s was not captured", order.OrderNumber)
	}
	return s.ConfirmPayment(ctx, orderID)
}

func (s *orderService) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.update(ctx, "confirm_payment", orderID, func(tx *sql.Tx, o *domain.Order, now time.Time) (bool, error) {
		if err := o.MarkPaid(now); err != nil {
			return false, err
		}
		if err := s.repos.Carts.EnqueueClear(ctx, tx, o.CustomerID, o.ID, now); err != nil {
			return false, persistence("enqueue cart clear", err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.repos.Carts.ClearCart(ctx, order.ID, s.clock()); err != nil {
		log.Error().Err(err).Str("order", order.OrderNumber).Msg("cart clear failed, will retry")
		if recErr := s.repos.Carts.RecordClearFailure(ctx, order.ID, err); recErr != nil {
			log.Error().Err(recErr).Str("order", order.OrderNumber).Msg("record cart clear failure")
		}
	}
	return order, nil
}
