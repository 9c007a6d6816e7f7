package pricing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRuleSource struct {
	mock.Mock
}

func (m *MockRuleSource) ListActive(ctx context.Context, userID int64, companyID *int64, platform, serviceType string) ([]*model.PricingRule, error) {
	args := m.Called(ctx, userID, companyID, platform, serviceType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PricingRule), args.Error(1)
}

type MockUserSource struct {
	mock.Mock
}

func (m *MockUserSource) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func rule(id int64, scope model.PricingScope, priority int, updated time.Time, cpu string) *model.PricingRule {
	return &model.PricingRule{
		ID:        id,
		Scope:     scope,
		Priority:  priority,
		Active:    true,
		UpdatedAt: updated,
		Services: []model.ServicePrice{{
			Platform:       "instagram",
			ServiceType:    "followers",
			CreditsPerUnit: decimal.RequireFromString(cpu),
			MinQuantity:    100,
			MaxQuantity:    5000,
		}},
	}
}

func newResolver(t *testing.T, rules []*model.PricingRule) *Resolver {
	t.Helper()
	user := &model.User{ID: 1, CompanyID: int64Ptr(10)}
	users := new(MockUserSource)
	users.On("GetByID", mock.Anything, int64(1)).Return(user, nil)
	source := new(MockRuleSource)
	source.On("ListActive", mock.Anything, int64(1), user.CompanyID, mock.Anything, mock.Anything).Return(rules, nil)

	r, err := NewResolver(source, users, Options{})
	require.NoError(t, err)
	return r
}

func TestResolver_RulePrecedence(t *testing.T) {
	now := time.Now()

	t.Run("highest priority wins", func(t *testing.T) {
		global := rule(1, model.PricingScopeGlobal, 1, now, "0.9")
		company := rule(2, model.PricingScopeCompany, 5, now, "0.7")
		company.CompanyID = int64Ptr(10)
		user := rule(3, model.PricingScopeUser, 10, now, "0.5")
		user.UserID = int64Ptr(1)

		rate, err := newResolver(t, []*model.PricingRule{global, company, user}).ResolveRate(context.Background(), 1, "instagram", "followers")
		require.NoError(t, err)
		assert.Equal(t, "0.5", rate.CreditsPerUnit.String())
		assert.Equal(t, "user", rate.Source)
		assert.Equal(t, int64(3), *rate.RuleID)
	})

	t.Run("ties go to the most recently updated", func(t *testing.T) {
		older := rule(1, model.PricingScopeGlobal, 5, now.Add(-time.Hour), "0.9")
		newer := rule(2, model.PricingScopeGlobal, 5, now, "0.8")

		rate, err := newResolver(t, []*model.PricingRule{older, newer}).ResolveRate(context.Background(), 1, "instagram", "followers")
		require.NoError(t, err)
		assert.Equal(t, "0.8", rate.CreditsPerUnit.String())
	})

	t.Run("rules of other tenants are ignored", func(t *testing.T) {
		foreign := rule(1, model.PricingScopeUser, 100, now, "0.1")
		foreign.UserID = int64Ptr(2)
		otherCompany := rule(2, model.PricingScopeCompany, 100, now, "0.1")
		otherCompany.CompanyID = int64Ptr(11)
		inactive := rule(3, model.PricingScopeGlobal, 100, now, "0.1")
		inactive.Active = false
		global := rule(4, model.PricingScopeGlobal, 0, now, "0.9")

		rate, err := newResolver(t, []*model.PricingRule{foreign, otherCompany, inactive, global}).ResolveRate(context.Background(), 1, "instagram", "followers")
		require.NoError(t, err)
		assert.Equal(t, "0.9", rate.CreditsPerUnit.String())
	})
}

func TestResolver_Fallbacks(t *testing.T) {
	r := newResolver(t, nil)
	ctx := context.Background()

	rate, err := r.ResolveRate(ctx, 1, "tiktok", "views")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, rate.Source)
	assert.Equal(t, "0.02", rate.CreditsPerUnit.String())

	rate, err = r.ResolveRate(ctx, 1, "myspace", "friends")
	require.NoError(t, err)
	assert.Equal(t, SourceFlat, rate.Source)
	assert.True(t, rate.CreditsPerUnit.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int64(FlatMinQuantity), rate.MinQuantity)
	assert.Equal(t, int64(FlatMaxQuantity), rate.MaxQuantity)
}

func TestResolver_CalculateCredits(t *testing.T) {
	r := newResolver(t, []*model.PricingRule{rule(1, model.PricingScopeGlobal, 0, time.Now(), "0.333")})
	ctx := context.Background()

	credits, err := r.CalculateCredits(ctx, 1, "instagram", "followers", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(333), credits)

	// 101 * 0.333 = 33.633
	credits, err = r.CalculateCredits(ctx, 1, "instagram", "followers", 101)
	require.NoError(t, err)
	assert.Equal(t, int64(34), credits)

	_, err = r.CalculateCredits(ctx, 1, "instagram", "followers", 99)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.CalculateCredits(ctx, 1, "instagram", "followers", 5001)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestResolver_UnknownUser(t *testing.T) {
	notFound := errors.New("user not found")
	users := new(MockUserSource)
	users.On("GetByID", mock.Anything, int64(9)).Return(nil, notFound)

	r, err := NewResolver(new(MockRuleSource), users, Options{})
	require.NoError(t, err)

	_, err = r.ResolveRate(context.Background(), 9, "instagram", "followers")
	assert.ErrorIs(t, err, notFound)
}

func TestNewResolver_RejectsNegativeFlatRate(t *testing.T) {
	_, err := NewResolver(new(MockRuleSource), new(MockUserSource), Options{FlatRate: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestCost(t *testing.T) {
	tests := []struct {
		cpu      string
		quantity int64
		want     int64
	}{
		{"1", 100, 100},
		{"0.5", 3, 2},
		{"0.001", 1, 1},
		{"2.25", 4, 9},
		{"0.1", 10, 1},
	}
	for _, tt := range tests {
		got, err := Cost(decimal.RequireFromString(tt.cpu), tt.quantity)
		require.NoError(t, err, "%s x %d", tt.cpu, tt.quantity)
		assert.Equal(t, tt.want, got, "%s x %d", tt.cpu, tt.quantity)
	}

	got, err := Cost(decimal.NewFromInt(1), math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	for _, q := range []int64{1<<62 + 1, math.MaxInt64} {
		_, err = Cost(decimal.NewFromInt(4), q)
		assert.ErrorIs(t, err, ErrOutOfBounds, "4 x %d", q)
	}
}

func TestCheckBounds(t *testing.T) {
	unbounded := &model.Rate{MinQuantity: 10}
	assert.NoError(t, CheckBounds(unbounded, 1_000_000_000))
	assert.ErrorIs(t, CheckBounds(unbounded, 9), ErrOutOfBounds)
	assert.ErrorIs(t, CheckBounds(unbounded, 0), ErrOutOfBounds)
}
