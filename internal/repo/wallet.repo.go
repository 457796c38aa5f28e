package repo

import (
	"context"
	"database/sql"

	"snapcart/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type WalletRepo interface {
	FindByCustomerId(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.Wallet, error)
	// EnsureForCustomer returns the customer's wallet, creating an empty one
	// if none exists.
	EnsureForCustomer(ctx context.Context, tx *sql.Tx, wallet *domain.Wallet) (*domain.Wallet, error)
	// ApplyTransaction moves the stored balance by txn.Amount and appends the
	// ledger entry. The update only succeeds while the wallet is active and
	// the resulting balance stays non-negative; otherwise it returns
	// domain.ErrConcurrentModification.
	ApplyTransaction(ctx context.Context, tx *sql.Tx, wallet *domain.Wallet, txn *domain.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID uuid.UUID) ([]domain.WalletTransaction, error)
}

type walletRepo struct {
	db *sql.DB
}

func NewWalletRepo(db *sql.DB) WalletRepo {
	return &walletRepo{db: db}
}

const walletColumns = "id, customer_id, balance, currency, is_active, created_at, updated_at"

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.CustomerID, &w.Balance, &w.Currency, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) FindByCustomerId(ctx context.Context, tx *sql.Tx, customerID uuid.UUID) (*domain.Wallet, error) {
	row := conn(r.db, tx).QueryRowContext(ctx,
		"SELECT "+walletColumns+" FROM wallets WHERE customer_id = $1", customerID)
	w, err := scanWallet(row)
	if err != nil {
		return nil, notFound(err, "find wallet")
	}
	return w, nil
}

func (r *walletRepo) EnsureForCustomer(ctx context.Context, tx *sql.Tx, w *domain.Wallet) (*domain.Wallet, error) {
	c := conn(r.db, tx)
	_, err := c.ExecContext(ctx, `
		INSERT INTO wallets (id, customer_id, balance, currency, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id) DO NOTHING`,
		w.ID, w.CustomerID, w.Balance, w.Currency, w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create wallet")
	}
	return r.FindByCustomerId(ctx, tx, w.CustomerID)
}

func (r *walletRepo) ApplyTransaction(ctx context.Context, tx *sql.Tx, w *domain.Wallet, txn *domain.WalletTransaction) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND is_active AND balance + $2 >= 0`,
		w.ID, txn.Amount, txn.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update wallet balance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update wallet balance")
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrConcurrentModification, "wallet %s balance changed", w.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, type, status, description, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.WalletID, txn.Amount, txn.Type, txn.Status, txn.Description, txn.OrderID, txn.CreatedAt,
	)
	return errors.Wrap(err, "insert wallet transaction")
}

func (r *walletRepo) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]domain.WalletTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, wallet_id, amount, type, status, description, order_id, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at, id`, walletID)
	if err != nil {
		return nil, errors.Wrap(err, "query wallet transactions")
	}
	defer rows.Close()

	var txns []domain.WalletTransaction
	for rows.Next() {
		var (
			t       domain.WalletTransaction
			orderID uuid.NullUUID
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Type, &t.Status, &t.Description, &orderID, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan wallet transaction")
		}
		if orderID.Valid {
			id := orderID.UUID
			t.OrderID = &id
		}
		txns = append(txns, t)
	}
	return txns, errors.Wrap(rows.Err(), "iterate wallet transactions")
}
