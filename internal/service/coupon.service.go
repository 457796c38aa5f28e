package service

import (
	"context"
	"database/sql"
	"time"

	"snapcart/internal/domain"
	"snapcart/internal/repo"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CouponPreview is what the storefront shows when a coupon is typed in:
// the priced cart plus the validation outcome. Nothing is reserved.
type CouponPreview struct {
	Pricing    domain.OrderPricingSnapshot
	Validation domain.CouponValidation
}

type CouponService interface {
	CreateCoupon(ctx context.Context, code string, details domain.CouponDetails) (*domain.Coupon, error)
	Activate(ctx context.Context, code string) (*domain.Coupon, error)
	Deactivate(ctx context.Context, code string) (*domain.Coupon, error)
	Expire(ctx context.Context, code string) (*domain.Coupon, error)
	UpdateDetails(ctx context.Context, code string, details domain.CouponDetails) (*domain.Coupon, error)
	PreviewCoupon(ctx context.Context, customerID uuid.UUID, code string) (*CouponPreview, error)
}

type couponService struct {
	db    *sql.DB
	repos *repo.Repos
	clock func() time.Time
}

func NewCouponService(db *sql.DB, repos *repo.Repos) CouponService {
	return &couponService{db: db, repos: repos, clock: time.Now}
}

func (s *couponService) CreateCoupon(ctx context.Context, code string, details domain.CouponDetails) (*domain.Coupon, error) {
	coupon, err := domain.NewCoupon(code, details, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.repos.Coupons.Create(ctx, coupon); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, errors.Wrapf(domain.ErrInvalidCoupon, "code %s already exists", coupon.Code)
		}
		return nil, persistence("create coupon", err)
	}
	log.Info().Str("coupon", coupon.Code).Msg("coupon created")
	return coupon, nil
}

func (s *couponService) mutate(ctx context.Context, code string, fn func(c *domain.Coupon, now time.Time) error) (*domain.Coupon, error) {
	var (
		coupon  *domain.Coupon
		stepErr error
	)
	err := repo.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		stepErr = func() error {
			found, err := s.repos.Coupons.FindByCode(ctx, tx, code)
			if errors.Is(err, repo.ErrNotFound) {
				return errors.Wrapf(domain.ErrCouponNotFound, "%s", domain.NormalizeCouponCode(code))
			}
			if err != nil {
				return persistence("find coupon", err)
			}
			locked, err := s.repos.Coupons.FindByIdForUpdate(ctx, tx, found.ID)
			if err != nil {
				return persistence("lock coupon", err)
			}
			if err := fn(locked, s.clock()); err != nil {
				return err
			}
			if err := s.repos.Coupons.Update(ctx, tx, locked); err != nil {
				return persistence("update coupon", err)
			}
			coupon = locked
			return nil
		}()
		return stepErr
	})
	if err != nil && stepErr == nil {
		return nil, persistence("update coupon", err)
	}
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

func (s *couponService) Activate(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.mutate(ctx, code, func(c *domain.Coupon, now time.Time) error {
		return c.Activate(now)
	})
}

func (s *couponService) Deactivate(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.mutate(ctx, code, func(c *domain.Coupon, now time.Time) error {
		return c.Deactivate(now)
	})
}

func (s *couponService) Expire(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.mutate(ctx, code, func(c *domain.Coupon, now time.Time) error {
		c.Expire(now)
		return nil
	})
}

func (s *couponService) UpdateDetails(ctx context.Context, code string, details domain.CouponDetails) (*domain.Coupon, error) {
	return s.mutate(ctx, code, func(c *domain.Coupon, now time.Time) error {
		return c.UpdateDetails(details, now)
	})
}

func (s *couponService) PreviewCoupon(ctx context.Context, customerID uuid.UUID, code string) (*CouponPreview, error) {
	items, err := s.repos.Carts.FetchCartItemsWithPricing(ctx, customerID)
	if err != nil {
		return nil, persistence("fetch cart", err)
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	coupon, err := s.repos.Coupons.FindByCode(ctx, nil, code)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errors.Wrapf(domain.ErrCouponNotFound, "%s", domain.NormalizeCouponCode(code))
	}
	if err != nil {
		return nil, persistence("find coupon", err)
	}
	usage, err := s.repos.Coupons.GetUserUsageCount(ctx, nil, coupon.ID, customerID)
	if err != nil {
		return nil, persistence("count coupon usage", err)
	}

	pricing := CalculatePricing(items, coupon, usage, s.clock())
	return &CouponPreview{Pricing: pricing.Snapshot, Validation: *pricing.CouponCheck}, nil
}
