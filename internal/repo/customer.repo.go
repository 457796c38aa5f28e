package repo

import (
	"context"
	"database/sql"

	"snapcart/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CustomerRepo covers the customer-owned records checkout reads: shipping
// addresses and the try-on credit counter.
type CustomerRepo interface {
	CreateCustomer(ctx context.Context, id uuid.UUID, name string) error
	CreateAddress(ctx context.Context, addr *domain.Address) error
	// FindAddress only returns addresses owned by customerID.
	FindAddress(ctx context.Context, customerID, addressID uuid.UUID) (*domain.Address, error)
	GrantTryOnCredits(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, credits int) error
	TryOnCredits(ctx context.Context, customerID uuid.UUID) (int, error)
}

type customerRepo struct {
	db *sql.DB
}

func NewCustomerRepo(db *sql.DB) CustomerRepo {
	return &customerRepo{db: db}
}

func (r *customerRepo) CreateCustomer(ctx context.Context, id uuid.UUID, name string) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO customers (id, name) VALUES ($1, $2)", id, name)
	return errors.Wrap(err, "insert customer")
}

func (r *customerRepo) CreateAddress(ctx context.Context, a *domain.Address) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO addresses (id, customer_id, full_name, phone, line1, line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.CustomerID, a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country,
	)
	return errors.Wrap(err, "insert address")
}

func (r *customerRepo) FindAddress(ctx context.Context, customerID, addressID uuid.UUID) (*domain.Address, error) {
	var a domain.Address
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, full_name, phone, line1, line2, city, state, postal_code, country
		FROM addresses
		WHERE id = $1 AND customer_id = $2`, addressID, customerID,
	).Scan(&a.ID, &a.CustomerID, &a.FullName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Country)
	if err != nil {
		return nil, notFound(err, "find address")
	}
	return &a, nil
}

func (r *customerRepo) GrantTryOnCredits(ctx context.Context, tx *sql.Tx, customerID uuid.UUID, credits int) error {
	res, err := conn(r.db, tx).ExecContext(ctx,
		"UPDATE customers SET try_on_credits = try_on_credits + $2 WHERE id = $1",
		customerID, credits,
	)
	if err != nil {
		return errors.Wrap(err, "grant try-on credits")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "customer %s", customerID)
	}
	return nil
}

func (r *customerRepo) TryOnCredits(ctx context.Context, customerID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT try_on_credits FROM customers WHERE id = $1", customerID).Scan(&n)
	if err != nil {
		return 0, notFound(err, "read try-on credits")
	}
	return n, nil
}

// CatalogRepo maintains products and variants. Checkout reads them through
// CartRepo's join only.
type CatalogRepo interface {
	CreateProduct(ctx context.Context, id uuid.UUID, name, image string, discountPercent decimal.NullDecimal) error
	CreateVariant(ctx context.Context, id, productID uuid.UUID, name string, price decimal.Decimal) error
	SetProductDiscount(ctx context.Context, productID uuid.UUID, discountPercent decimal.NullDecimal) error
	SetVariantPrice(ctx context.Context, variantID uuid.UUID, price decimal.Decimal) error
}

type catalogRepo struct {
	db *sql.DB
}

func NewCatalogRepo(db *sql.DB) CatalogRepo {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) CreateProduct(ctx context.Context, id uuid.UUID, name, image string, discountPercent decimal.NullDecimal) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO products (id, name, image, discount_percent) VALUES ($1, $2, $3, $4)",
		id, name, image, discountPercent,
	)
	return errors.Wrap(err, "insert product")
}

func (r *catalogRepo) CreateVariant(ctx context.Context, id, productID uuid.UUID, name string, price decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO product_variants (id, product_id, name, price) VALUES ($1, $2, $3, $4)",
		id, productID, name, price,
	)
	return errors.Wrap(err, "insert variant")
}

func (r *catalogRepo) SetProductDiscount(ctx context.Context, productID uuid.UUID, discountPercent decimal.NullDecimal) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE products SET discount_percent = $2 WHERE id = $1", productID, discountPercent)
	return errors.Wrap(err, "update product discount")
}

func (r *catalogRepo) SetVariantPrice(ctx context.Context, variantID uuid.UUID, price decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE product_variants SET price = $2 WHERE id = $1", variantID, price)
	return errors.Wrap(err, "update variant price")
}
