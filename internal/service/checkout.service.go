package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"snapcart/internal/config"
	"snapcart/internal/domain"
	"snapcart/internal/metrics"
	"snapcart/internal/repo"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "snapcart/checkout"

type CommitRequest struct {
	CustomerID        uuid.UUID
	Source            domain.CheckoutSource
	CouponCode        string
	ShippingAddressID uuid.UUID
	PaymentMethod     domain.PaymentMethod
	// IdempotencyKey is optional. When empty a key is derived from the cart
	// contents and the current time window.
	IdempotencyKey string
}

type CheckoutService interface {
	Commit(ctx context.Context, req CommitRequest) (*domain.OrderResponse, error)
}

type checkoutService struct {
	db     *sql.DB
	repos  *repo.Repos
	cfg    config.Checkout
	clock  func() time.Time
	tracer trace.Tracer
}

type Option func(*checkoutService)

func WithClock(clock func() time.Time) Option {
	return func(s *checkoutService) { s.clock = clock }
}

func NewCheckoutService(db *sql.DB, repos *repo.Repos, cfg config.Checkout, opts ...Option) CheckoutService {
	s := &checkoutService{
		db:     db,
		repos:  repos,
		cfg:    cfg,
		clock:  time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit turns the customer's cart into a persisted order. Either the order,
// its coupon usage and its wallet debit are all stored, or none are.
func (s *checkoutService) Commit(ctx context.Context, req CommitRequest) (_ *domain.OrderResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer.id", req.CustomerID.String()),
		attribute.String("payment.method", string(req.PaymentMethod)),
	)

	start := time.Now()
	outcome := metrics.OutcomeCreated
	defer func() {
		if err != nil {
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordCheckout(string(req.PaymentMethod), outcome, time.Since(start))
	}()

	order, replayed, err := s.commit(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("customer", req.CustomerID.String()).Msg("checkout commit failed")
		return nil, err
	}
	if replayed {
		outcome = metrics.OutcomeReplayed
		span.AddEvent("idempotent replay")
		log.Info().Str("order", order.OrderNumber).Msg("checkout replayed existing order")
	} else {
		log.Info().
			Str("order", order.OrderNumber).
			Str("total", order.Pricing.Total.StringFixed(2)).
			Str("payment_method", string(order.PaymentMethod)).
			Msg("order placed")
	}
	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	return order.Response(), nil
}

func outcomeOf(err error) string {
	switch {
	case domain.IsRetriable(err):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrPersistence):
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeRejected
	}
}

func persistence(op string, err error) error {
	if domain.IsRetriable(err) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

// commit reports replayed=true when an order for the same idempotency key
// already existed.
func (s *checkoutService) commit(ctx context.Context, req CommitRequest) (*domain.Order, bool, error) {
	if req.Source != domain.SourceCart {
		return nil, false, errors.Wrapf(domain.ErrUnsupportedCheckoutSource, "%q", req.Source)
	}
	if !req.PaymentMethod.Valid() {
		return nil, false, errors.Wrapf(domain.ErrUnsupportedPaymentMethod, "%q", req.PaymentMethod)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repos.Orders.FindByIdempotencyKey(ctx, nil, req.CustomerID, req.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, persistence("find order by idempotency key", err)
		}
	}

	now := s.clock()

	items, err := s.repos.Carts.FetchCartItemsWithPricing(ctx, req.CustomerID)
	if err != nil {
		return nil, false, persistence("fetch cart", err)
	}
	if len(items) == 0 {
		return nil, false, domain.ErrEmptyCart
	}

	key := req.IdempotencyKey
	if key == "" {
		key = s.deriveKey(req, items, now)
	}

	var coupon *domain.Coupon
	usage := 0
	if code := domain.NormalizeCouponCode(req.CouponCode); code != "" {
		coupon, err = s.repos.Coupons.FindByCode(ctx, nil, code)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, errors.Wrapf(domain.ErrCouponNotFound, "%s", code)
		}
		if err != nil {
			return nil, false, persistence("find coupon", err)
		}
		if usage, err = s.repos.Coupons.GetUserUsageCount(ctx, nil, coupon.ID, req.CustomerID); err != nil {
			return nil, false, persistence("count coupon usage", err)
		}
	}

	pricing := CalculatePricing(items, coupon, usage, now)
	if pricing.CouponCheck != nil && !pricing.CouponCheck.Valid {
		return nil, false, pricing.CouponCheck.Err(coupon.Code)
	}

	addr, err := s.repos.Customers.FindAddress(ctx, req.CustomerID, req.ShippingAddressID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, errors.Wrapf(domain.ErrAddressNotFound, "%s", req.ShippingAddressID)
	}
	if err != nil {
		return nil, false, persistence("find address", err)
	}

	var wallet *domain.Wallet
	if req.PaymentMethod == domain.PaymentWallet {
		if wallet, err = s.checkWallet(ctx, req.CustomerID, pricing.Snapshot.Total); err != nil {
			return nil, false, err
		}
	}

	order, err := domain.NewOrder(domain.NewOrderParams{
		CustomerID:     req.CustomerID,
		IdempotencyKey: key,
		Items:          items,
		Pricing:        pricing.Snapshot,
		Address:        *addr,
		PaymentMethod:  req.PaymentMethod,
	}, now)
	if err != nil {
		return nil, false, err
	}

	var stepErr error
	err = repo.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		stepErr = s.persist(ctx, tx, order, items, coupon, pricing.Snapshot, wallet, now)
		return stepErr
	})
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		existing, findErr := s.repos.Orders.FindByIdempotencyKey(ctx, nil, req.CustomerID, key)
		if findErr != nil {
			return nil, false, persistence("find replayed order", findErr)
		}
		return existing, true, nil
	case err != nil && stepErr == nil:
		// begin or commit failed
		return nil, false, persistence("commit order", err)
	case err != nil:
		return nil, false, err
	}

	if order.PaymentMethod.ClearsCartOnCommit() {
		s.clearCart(ctx, order, now)
	}
	return order, false, nil
}

func (s *checkoutService) checkWallet(ctx context.Context, customerID uuid.UUID, total decimal.Decimal) (*domain.Wallet, error) {
	wallet, err := s.repos.Wallets.FindByCustomerId(ctx, nil, customerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "customer %s", customerID)
	}
	if err != nil {
		return nil, persistence("find wallet", err)
	}
	if !wallet.IsActive {
		return nil, errors.Wrapf(domain.ErrWalletInactive, "wallet %s", wallet.ID)
	}
	if !wallet.HasSufficientBalance(total) {
		return nil, errors.Wrapf(domain.ErrInsufficientBalance, "balance %s, total %s",
			wallet.Balance.StringFixed(2), total.StringFixed(2))
	}
	return wallet, nil
}

// persist runs inside the commit transaction. The coupon row stays locked
// until commit so usage checks and the increment cannot interleave with
// another checkout.
func (s *checkoutService) persist(
	ctx context.Context,
	tx *sql.Tx,
	order *domain.Order,
	items []domain.CartItemWithPricing,
	coupon *domain.Coupon,
	priced domain.OrderPricingSnapshot,
	wallet *domain.Wallet,
	now time.Time,
) error {
	if coupon != nil {
		locked, err := s.repos.Coupons.FindByIdForUpdate(ctx, tx, coupon.ID)
		if err != nil {
			return persistence("lock coupon", err)
		}
		usage, err := s.repos.Coupons.GetUserUsageCount(ctx, tx, locked.ID, order.CustomerID)
		if err != nil {
			return persistence("recount coupon usage", err)
		}
		repriced := CalculatePricing(items, locked, usage, now)
		if !repriced.Snapshot.Equal(priced) {
			return errors.Wrapf(domain.ErrConcurrentModification, "coupon %s changed during checkout", locked.Code)
		}
	}

	if err := s.repos.Orders.CreateOrder(ctx, tx, order); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		return persistence("create order", err)
	}

	if coupon != nil && priced.CouponApplied() {
		if err := s.repos.Coupons.RecordUsage(ctx, tx, &domain.CouponUsage{
			ID:             uuid.New(),
			CouponID:       coupon.ID,
			CustomerID:     order.CustomerID,
			OrderID:        order.ID,
			DiscountAmount: priced.CouponDiscount,
			UsedAt:         now,
		}); err != nil {
			return persistence("record coupon usage", err)
		}
		if err := s.repos.Coupons.IncrementUsedCount(ctx, tx, coupon.ID, now); err != nil {
			return persistence("increment coupon usage", err)
		}
	}

	if order.PaymentMethod == domain.PaymentWallet {
		if err := s.debitWallet(ctx, tx, order, wallet, now); err != nil {
			return err
		}
	}

	if order.PaymentMethod.ClearsCartOnCommit() {
		if err := s.repos.Carts.EnqueueClear(ctx, tx, order.CustomerID, order.ID, now); err != nil {
			return persistence("enqueue cart clear", err)
		}
	}
	return nil
}

func (s *checkoutService) debitWallet(ctx context.Context, tx *sql.Tx, order *domain.Order, wallet *domain.Wallet, now time.Time) error {
	prevStatus := order.PaymentStatus
	total := order.Pricing.Total
	if total.IsPositive() {
		txn, err := wallet.Debit(total, &order.ID, "Payment for order "+order.OrderNumber, now)
		if err != nil {
			return err
		}
		if err := s.repos.Wallets.ApplyTransaction(ctx, tx, wallet, txn); err != nil {
			return persistence("debit wallet", err)
		}
	}
	if err := order.MarkPaid(now); err != nil {
		return err
	}
	if err := s.repos.Orders.UpdateOrderStatus(ctx, tx, order, order.Status, prevStatus); err != nil {
		return persistence("mark order paid", err)
	}
	return nil
}

// clearCart runs after commit. A failure leaves the outbox request in place
// for the reconciliation worker.
func (s *checkoutService) clearCart(ctx context.Context, order *domain.Order, now time.Time) {
	err := s.repos.Carts.ClearCart(ctx, order.ID, now)
	if err == nil {
		return
	}
	log.Error().Err(err).Str("order", order.OrderNumber).Msg("cart clear failed, will retry")
	if recErr := s.repos.Carts.RecordClearFailure(ctx, order.ID, err); recErr != nil {
		log.Error().Err(recErr).Str("order", order.OrderNumber).Msg("record cart clear failure")
	}
}

// deriveKey hashes everything that identifies one logical checkout, bucketed
// by the idempotency window. Each line's added_at is part of the key, so a
// cart rebuilt after a previous order never replays that order.
func (s *checkoutService) deriveKey(req CommitRequest, items []domain.CartItemWithPricing, now time.Time) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s:%d:%d", it.VariantID, it.Quantity, it.AddedAt.UnixMicro()))
	}
	sort.Strings(lines)

	window := s.cfg.IdempotencyWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	bucket := now.UTC().Truncate(window).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d",
		req.CustomerID,
		strings.Join(lines, ","),
		domain.NormalizeCouponCode(req.CouponCode),
		req.ShippingAddressID,
		req.PaymentMethod,
		bucket,
	)
	return "auto-" + hex.EncodeToString(h.Sum(nil))
}
