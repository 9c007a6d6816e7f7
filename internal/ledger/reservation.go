package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

var ErrInvalidTransition = errors.New("invalid reservation transition")

type State int

const (
	StateReserved State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateReserved:
		return "reserved"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Reservation is a debit that has happened but is not yet accounted for.
// Reserved moves to Committed once the order that explains it is stored, or to
// RolledBack once the exact amount is back on the balance. Nothing else is
// allowed.
type Reservation struct {
	ledger   *Ledger
	userID   int64
	amount   int64
	movement model.LedgerMovement

	mu    sync.Mutex
	state State
}

func (r *Reservation) UserID() int64 {
	return r.userID
}

func (r *Reservation) Amount() int64 {
	return r.amount
}

// Movement is the balance change of the original debit.
func (r *Reservation) Movement() model.LedgerMovement {
	return r.movement
}

func (r *Reservation) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Commit runs persist in one database transaction. When persist fails the
// reservation stays Reserved and the caller still owes a Rollback.
func (r *Reservation) Commit(ctx context.Context, persist func(ctx context.Context, mv model.LedgerMovement) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReserved {
		return fmt.Errorf("%w: commit from %s", ErrInvalidTransition, r.state)
	}

	if err := r.ledger.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return persist(ctx, r.movement)
	}); err != nil {
		return err
	}

	r.state = StateCommitted
	return nil
}

// Rollback reverses the debit. A failed reversal leaves the reservation
// Reserved so it can be retried.
func (r *Reservation) Rollback(ctx context.Context) (*model.LedgerMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReserved {
		return nil, fmt.Errorf("%w: rollback from %s", ErrInvalidTransition, r.state)
	}

	mv, err := r.ledger.ReverseDebit(ctx, r.userID, r.amount)
	if err != nil {
		logger.Error("Failed to reverse debit", "user_id", r.userID, "amount", r.amount, "error", err)
		return nil, err
	}

	r.state = StateRolledBack
	return mv, nil
}
