package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, db *testDB, id int64, balance int64) {
	t.Helper()
	company := &CompanyEntity{Name: "acme"}
	require.NoError(t, db.rawDB.Create(company).Error)
	require.NoError(t, db.rawDB.Create(&UserEntity{
		ID:        id,
		CompanyID: &company.ID,
		Email:     "user" + string(rune('a'+id%26)) + "@example.com",
		Balance:   balance,
	}).Error)
}

func TestUserRepository_Debit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	ctx := context.Background()

	t.Run("successful debit", func(t *testing.T) {
		seedUser(t, db, 1, 1000)

		mv, err := repo.Debit(ctx, 1, 300)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), mv.BalanceBefore)
		assert.Equal(t, int64(700), mv.BalanceAfter)

		user, err := repo.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(700), user.Balance)
		assert.Equal(t, int64(300), user.TotalSpent)
	})

	t.Run("insufficient balance never clamps", func(t *testing.T) {
		seedUser(t, db, 2, 100)

		_, err := repo.Debit(ctx, 2, 200)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		balance, err := repo.GetBalance(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("user not found", func(t *testing.T) {
		_, err := repo.Debit(ctx, 999, 100)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("exact balance debit", func(t *testing.T) {
		seedUser(t, db, 3, 250)

		mv, err := repo.Debit(ctx, 3, 250)
		require.NoError(t, err)
		assert.Equal(t, int64(0), mv.BalanceAfter)
	})

	t.Run("negative amount", func(t *testing.T) {
		seedUser(t, db, 4, 250)

		_, err := repo.Debit(ctx, 4, -1)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestUserRepository_CreditAndReverse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	ctx := context.Background()
	seedUser(t, db, 1, 500)

	_, err := repo.Credit(ctx, 1, 250)
	require.NoError(t, err)

	_, err = repo.Debit(ctx, 1, 400)
	require.NoError(t, err)

	mv, err := repo.ReverseDebit(ctx, 1, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(350), mv.BalanceBefore)
	assert.Equal(t, int64(750), mv.BalanceAfter)

	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(750), user.Balance)
	assert.Equal(t, int64(250), user.TotalPurchased)
	assert.Equal(t, int64(0), user.TotalSpent)

	_, err = repo.Credit(ctx, 999, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_ConcurrentDebitsConserveBalance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	ctx := context.Background()
	seedUser(t, db, 1, 1000)

	const concurrency = 30
	const amount = int64(50)
	var wg sync.WaitGroup
	var succeeded atomic.Int64

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Debit(ctx, 1, amount); err == nil {
				succeeded.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	// 1000 / 50 debits fit, the rest must fail without going negative
	assert.Equal(t, int64(20), succeeded.Load())

	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.Balance)
	assert.Equal(t, int64(1000), user.TotalSpent)
}

func TestUserRepository_ContextCancellation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	seedUser(t, db, 1, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Debit(ctx, 1, 100)
	assert.Error(t, err)

	balance, err := repo.GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestUserRepository_DebitJoinsOuterTransaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	ctx := context.Background()
	seedUser(t, db, 1, 1000)

	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := repo.Debit(ctx, 1, 600); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	balance, err := repo.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestUserRepository_CreateAndCompany(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db.DB)
	ctx := context.Background()

	company, err := repo.CreateCompany(ctx, "acme")
	require.NoError(t, err)
	assert.NotZero(t, company.ID)

	got, err := repo.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	_, err = repo.GetCompany(ctx, 999)
	assert.ErrorIs(t, err, ErrCompanyNotFound)

	user, err := repo.Create(ctx, &model.User{CompanyID: &company.ID, Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.True(t, user.HasTenant())

	_, err = repo.Create(ctx, &model.User{Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}
