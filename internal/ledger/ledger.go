package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

type Accounts interface {
	Debit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error)
	Credit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error)
	ReverseDebit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
}

type Journal interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	List(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger is the credit balance of tenant users. Each mutation is one row-locked
// update, so concurrent debits for the same user serialize and the balance
// never goes below zero.
type Ledger struct {
	accounts Accounts
	journal  Journal
	tx       Transactor
}

func New(accounts Accounts, journal Journal, tx Transactor) *Ledger {
	return &Ledger{
		accounts: accounts,
		journal:  journal,
		tx:       tx,
	}
}

// Debit fails with ErrInsufficientCredit, leaving the balance untouched, when
// the balance cannot cover amount.
func (l *Ledger) Debit(ctx context.Context, userID, amount int64) (*model.LedgerMovement, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	mv, err := l.accounts.Debit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: user %d needs %d", ErrInsufficientCredit, userID, amount)
		}
		return nil, err
	}
	return mv, nil
}

// ReverseDebit puts back exactly amount. Callers pass the amount they debited,
// never a recomputed price.
func (l *Ledger) ReverseDebit(ctx context.Context, userID, amount int64) (*model.LedgerMovement, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.accounts.ReverseDebit(ctx, userID, amount)
}

// Credit adds purchased credits and journals a purchase in the same
// transaction.
func (l *Ledger) Credit(ctx context.Context, userID, amount int64, reference string) (*model.LedgerMovement, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var movement *model.LedgerMovement
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		mv, err := l.accounts.Credit(ctx, userID, amount)
		if err != nil {
			return err
		}
		if _, err := l.journal.Create(ctx, &model.Transaction{
			UserID:        userID,
			Type:          model.TransactionPurchase,
			Amount:        amount,
			BalanceBefore: mv.BalanceBefore,
			BalanceAfter:  mv.BalanceAfter,
			Reference:     reference,
		}); err != nil {
			return fmt.Errorf("journal purchase: %w", err)
		}
		movement = mv
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Credits added", "user_id", userID, "amount", amount, "balance", movement.BalanceAfter)
	return movement, nil
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	return l.accounts.GetBalance(ctx, userID)
}

func (l *Ledger) History(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	return l.journal.List(ctx, f)
}

// Reserve debits amount now and hands back a Reservation that must end in
// Commit or Rollback.
func (l *Ledger) Reserve(ctx context.Context, userID, amount int64) (*Reservation, error) {
	mv, err := l.Debit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	return &Reservation{
		ledger:   l,
		userID:   userID,
		amount:   amount,
		movement: *mv,
		state:    StateReserved,
	}, nil
}
