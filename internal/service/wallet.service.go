package service

import (
	"context"
	"database/sql"
	"time"

	"snapcart/internal/domain"
	"snapcart/internal/repo"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	// TopUp credits the customer's wallet, creating it if needed.
	TopUp(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, description string) (*domain.Wallet, error)
	GetWallet(ctx context.Context, customerID uuid.UUID) (*domain.Wallet, error)
	// VerifyLedger fails when the stored balance differs from the sum of
	// ledger entries.
	VerifyLedger(ctx context.Context, customerID uuid.UUID) error
}

type walletService struct {
	db    *sql.DB
	repos *repo.Repos
	clock func() time.Time
}

func NewWalletService(db *sql.DB, repos *repo.Repos) WalletService {
	return &walletService{db: db, repos: repos, clock: time.Now}
}

func (s *walletService) TopUp(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, description string) (*domain.Wallet, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if description == "" {
		description = "Wallet top-up"
	}

	var (
		wallet  *domain.Wallet
		stepErr error
	)
	err := repo.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		stepErr = func() error {
			now := s.clock()
			w, err := s.repos.Wallets.EnsureForCustomer(ctx, tx, domain.NewWallet(customerID, now))
			if err != nil {
				return persistence("ensure wallet", err)
			}
			txn, err := w.Credit(amount, nil, description, now)
			if err != nil {
				return err
			}
			if err := s.repos.Wallets.ApplyTransaction(ctx, tx, w, txn); err != nil {
				return persistence("credit wallet", err)
			}
			wallet = w
			return nil
		}()
		return stepErr
	})
	if err != nil && stepErr == nil {
		return nil, persistence("top up", err)
	}
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *walletService) GetWallet(ctx context.Context, customerID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.repos.Wallets.FindByCustomerId(ctx, nil, customerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "customer %s", customerID)
	}
	if err != nil {
		return nil, persistence("find wallet", err)
	}
	return w, nil
}

func (s *walletService) VerifyLedger(ctx context.Context, customerID uuid.UUID) error {
	w, err := s.GetWallet(ctx, customerID)
	if err != nil {
		return err
	}
	entries, err := s.repos.Wallets.ListTransactions(ctx, w.ID)
	if err != nil {
		return persistence("list wallet transactions", err)
	}
	return w.CheckLedger(entries)
}
