package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrCompanyNotFound     = errors.New("company not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must not be negative")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrDuplicateEmail      = errors.New("email already exists")
)

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

// balanceChange describes one ledger mutation. The three deltas are applied in
// a single guarded UPDATE.
type balanceChange struct {
	amount       int64
	balance      int64
	purchased    int64
	spent        int64
	requireFunds bool
}

// Debit removes amount from the balance and adds it to total_spent. It never
// clamps: a short balance fails with ErrInsufficientBalance and nothing moves.
func (r *UserRepository) Debit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error) {
	return r.changeBalance(ctx, userID, balanceChange{
		amount:       amount,
		balance:      -amount,
		spent:        amount,
		requireFunds: true,
	})
}

// Credit adds purchased credits.
func (r *UserRepository) Credit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error) {
	return r.changeBalance(ctx, userID, balanceChange{
		amount:    amount,
		balance:   amount,
		purchased: amount,
	})
}

// ReverseDebit undoes a debit of exactly amount. total_spent goes down with it
// so a reversed admission leaves no trace on the counters.
func (r *UserRepository) ReverseDebit(ctx context.Context, userID int64, amount int64) (*model.LedgerMovement, error) {
	return r.changeBalance(ctx, userID, balanceChange{
		amount:  amount,
		balance: amount,
		spent:   -amount,
	})
}

func (r *UserRepository) changeBalance(ctx context.Context, userID int64, change balanceChange) (*model.LedgerMovement, error) {
	if change.amount < 0 {
		return nil, ErrInvalidAmount
	}

	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		movement, err := r.changeBalanceAttempt(ctx, userID, change)
		if err == nil {
			return movement, nil
		}

		// Don't retry on permanent errors
		if errors.Is(err, ErrUserNotFound) ||
			errors.Is(err, ErrInsufficientBalance) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt) // 2ms, 4ms, 8ms
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return nil, fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *UserRepository) changeBalanceAttempt(ctx context.Context, userID int64, change balanceChange) (*model.LedgerMovement, error) {
	var movement *model.LedgerMovement

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity UserEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", userID).
			First(&entity).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if change.requireFunds && entity.Balance < change.amount {
			return ErrInsufficientBalance
		}

		q := r.Write(ctx).Model(&UserEntity{}).Where("id = ?", userID)
		if change.requireFunds {
			// guard holds even where the row lock is not honoured
			q = q.Where("balance >= ?", change.amount)
		}
		result := q.Updates(map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", change.balance),
			"total_purchased": gorm.Expr("total_purchased + ?", change.purchased),
			"total_spent":     gorm.Expr("total_spent + ?", change.spent),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}

		movement = &model.LedgerMovement{
			UserID:        userID,
			Amount:        change.amount,
			BalanceBefore: entity.Balance,
			BalanceAfter:  entity.Balance + change.balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).
		Where("id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return toUserModel(&entity), nil
}

func (r *UserRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var entity UserEntity
	err := r.Read(ctx).
		Select("balance").
		Where("id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return entity.Balance, nil
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) (*model.User, error) {
	entity := toUserEntity(user)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return toUserModel(entity), nil
}

func (r *UserRepository) CreateCompany(ctx context.Context, name string) (*model.Company, error) {
	entity := &CompanyEntity{Name: name}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toCompanyModel(entity), nil
}

func (r *UserRepository) GetCompany(ctx context.Context, companyID int64) (*model.Company, error) {
	var entity CompanyEntity
	err := r.Read(ctx).Where("id = ?", companyID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return toCompanyModel(&entity), nil
}
