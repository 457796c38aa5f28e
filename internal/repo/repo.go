package repo

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by lookups instead of a nil value so callers must
// handle absence explicitly.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs against tx when one is given, otherwise against the pool.
func conn(db *sql.DB, tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return db
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// Repos bundles every repository over one pool.
type Repos struct {
	Orders    OrderRepo
	Coupons   CouponRepo
	Carts     CartRepo
	Wallets   WalletRepo
	Customers CustomerRepo
	Catalog   CatalogRepo
}

func NewRepos(db *sql.DB) *Repos {
	return &Repos{
		Orders:    NewOrderRepo(db),
		Coupons:   NewCouponRepo(db),
		Carts:     NewCartRepo(db),
		Wallets:   NewWalletRepo(db),
		Customers: NewCustomerRepo(db),
		Catalog:   NewCatalogRepo(db),
	}
}
