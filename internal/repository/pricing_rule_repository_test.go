package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(name string, scope model.PricingScope, priority int, platform, serviceType, cpu string) *model.PricingRule {
	return &model.PricingRule{
		Name:     name,
		Scope:    scope,
		Priority: priority,
		Active:   true,
		Services: []model.ServicePrice{{
			Platform:       platform,
			ServiceType:    serviceType,
			CreditsPerUnit: decimal.RequireFromString(cpu),
			MinQuantity:    10,
			MaxQuantity:    10000,
		}},
	}
}

func TestPricingRuleRepository_ListActive(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewPricingRuleRepository(db)
	ctx := context.Background()

	companyID, userID, otherUser := int64(3), int64(5), int64(6)

	global := rule("global", model.PricingScopeGlobal, 0, "instagram", "followers", "1")
	_, err := repo.Create(ctx, global)
	require.NoError(t, err)

	company := rule("company", model.PricingScopeCompany, 5, "instagram", "followers", "0.8")
	company.CompanyID = &companyID
	_, err = repo.Create(ctx, company)
	require.NoError(t, err)

	user := rule("user", model.PricingScopeUser, 10, "instagram", "followers", "0.5")
	user.UserID = &userID
	_, err = repo.Create(ctx, user)
	require.NoError(t, err)

	foreign := rule("foreign", model.PricingScopeUser, 99, "instagram", "followers", "0.1")
	foreign.UserID = &otherUser
	_, err = repo.Create(ctx, foreign)
	require.NoError(t, err)

	otherService := rule("likes", model.PricingScopeGlobal, 50, "instagram", "likes", "0.2")
	_, err = repo.Create(ctx, otherService)
	require.NoError(t, err)

	inactive := rule("inactive", model.PricingScopeGlobal, 100, "instagram", "followers", "0.01")
	created, err := repo.Create(ctx, inactive)
	require.NoError(t, err)
	require.NoError(t, repo.SetActive(ctx, created.ID, false))

	t.Run("user with company", func(t *testing.T) {
		rules, err := repo.ListActive(ctx, userID, &companyID, "instagram", "followers")
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "user", rules[0].Name)
		assert.Equal(t, "company", rules[1].Name)
		assert.Equal(t, "global", rules[2].Name)
		for _, r := range rules {
			require.Len(t, r.Services, 1)
			assert.Equal(t, "followers", r.Services[0].ServiceType)
		}
	})

	t.Run("user without company", func(t *testing.T) {
		rules, err := repo.ListActive(ctx, userID, nil, "instagram", "followers")
		require.NoError(t, err)
		require.Len(t, rules, 2)
	})

	t.Run("no matching service", func(t *testing.T) {
		rules, err := repo.ListActive(ctx, userID, &companyID, "tiktok", "views")
		require.NoError(t, err)
		assert.Empty(t, rules)
	})
}
