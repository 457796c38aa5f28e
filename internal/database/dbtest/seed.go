package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"snapcart/internal/domain"
	"snapcart/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type Shopper struct {
	CustomerID uuid.UUID
	AddressID  uuid.UUID
}

// SeedVariant creates a product with one variant. discountPercent may be
// empty for no product discount.
func SeedVariant(t *testing.T, repos *repo.Repos, price, discountPercent string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	var pct decimal.NullDecimal
	if discountPercent != "" {
		pct = decimal.NewNullDecimal(decimal.RequireFromString(discountPercent))
	}
	productID, variantID := uuid.New(), uuid.New()
	require.NoError(t, repos.Catalog.CreateProduct(ctx, productID, "Linen Shirt", "shirt.png", pct))
	require.NoError(t, repos.Catalog.CreateVariant(ctx, variantID, productID, "M / White", decimal.RequireFromString(price)))
	return variantID
}

func SeedShopper(t *testing.T, repos *repo.Repos) Shopper {
	t.Helper()
	ctx := context.Background()

	s := Shopper{CustomerID: uuid.New(), AddressID: uuid.New()}
	require.NoError(t, repos.Customers.CreateCustomer(ctx, s.CustomerID, "shopper"))
	require.NoError(t, repos.Customers.CreateAddress(ctx, &domain.Address{
		ID:         s.AddressID,
		CustomerID: s.CustomerID,
		FullName:   "Test Shopper",
		Phone:      "9999999999",
		Line1:      "1 Test Street",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	}))
	return s
}

func AddToCart(t *testing.T, repos *repo.Repos, customerID, variantID uuid.UUID, qty int, at time.Time) {
	t.Helper()
	require.NoError(t, repos.Carts.AddItem(context.Background(), customerID, variantID, qty, at))
}

func SeedCoupon(t *testing.T, repos *repo.Repos, code string, d domain.CouponDetails) *domain.Coupon {
	t.Helper()

	c, err := domain.NewCoupon(code, d, time.Now())
	require.NoError(t, err)
	require.NoError(t, repos.Coupons.Create(context.Background(), c))
	return c
}

// FundWallet creates the customer's wallet with the given opening balance,
// recorded as a ledger credit.
func FundWallet(t *testing.T, db *sql.DB, repos *repo.Repos, customerID uuid.UUID, amount string) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	var wallet *domain.Wallet
	require.NoError(t, repo.WithTx(ctx, db, nil, func(tx *sql.Tx) error {
		w, err := repos.Wallets.EnsureForCustomer(ctx, tx, domain.NewWallet(customerID, now))
		if err != nil {
			return err
		}
		txn, err := w.Credit(decimal.RequireFromString(amount), nil, "opening balance", now)
		if err != nil {
			return err
		}
		wallet = w
		return repos.Wallets.ApplyTransaction(ctx, tx, w, txn)
	}))
	return wallet
}
