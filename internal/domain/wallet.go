package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

type Wallet struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Balance    decimal.Decimal
	Currency   string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewWallet(customerID uuid.UUID, now time.Time) *Wallet {
	return &Wallet{
		ID:         uuid.New(),
		CustomerID: customerID,
		Balance:    decimal.Zero,
		Currency:   DefaultCurrency,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (w *Wallet) HasSufficientBalance(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Debit rejects, never clamps: the balance is left untouched on error.
func (w *Wallet) Debit(amount decimal.Decimal, orderID *uuid.UUID, description string, now time.Time) (*WalletTransaction, error) {
	if !w.IsActive {
		return nil, ErrWalletInactive
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !w.HasSufficientBalance(amount) {
		return nil, ErrInsufficientBalance
	}
	txn := NewWalletTransaction(w.ID, TransactionDebit, amount, orderID, description, now)
	w.Balance = w.Balance.Add(txn.Amount)
	w.UpdatedAt = now
	return txn, nil
}

func (w *Wallet) Credit(amount decimal.Decimal, orderID *uuid.UUID, description string, now time.Time) (*WalletTransaction, error) {
	if !w.IsActive {
		return nil, ErrWalletInactive
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	txn := NewWalletTransaction(w.ID, TransactionCredit, amount, orderID, description, now)
	w.Balance = w.Balance.Add(txn.Amount)
	w.UpdatedAt = now
	return txn, nil
}

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
)

// WalletTransaction is an immutable ledger entry. Amount is signed: credits
// are positive, debits negative.
type WalletTransaction struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Type        TransactionType
	Status      TransactionStatus
	Description string
	OrderID     *uuid.UUID
	CreatedAt   time.Time
}

// NewWalletTransaction builds a ledger entry from an unsigned magnitude.
func NewWalletTransaction(walletID uuid.UUID, typ TransactionType, magnitude decimal.Decimal, orderID *uuid.UUID, description string, now time.Time) *WalletTransaction {
	amount := magnitude.Abs()
	if typ == TransactionDebit {
		amount = amount.Neg()
	}
	return &WalletTransaction{
		ID:          uuid.New(),
		WalletID:    walletID,
		Amount:      amount,
		Type:        typ,
		Status:      TransactionCompleted,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   now,
	}
}

// LedgerBalance folds a wallet's ledger into its balance.
func LedgerBalance(entries []WalletTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		if e.Status != TransactionCompleted {
			continue
		}
		sum = sum.Add(e.Amount)
	}
	return sum
}

// CheckLedger returns an error when the stored balance drifted from the ledger.
func (w *Wallet) CheckLedger(entries []WalletTransaction) error {
	if folded := LedgerBalance(entries); !folded.Equal(w.Balance) {
		return errors.Errorf("wallet %s balance %s does not match ledger %s", w.ID, w.Balance, folded)
	}
	return nil
}
