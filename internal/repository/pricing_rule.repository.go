package repository

import (
	"context"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"gorm.io/gorm"
)

type PricingRuleRepository struct {
	*pg.DB
}

func NewPricingRuleRepository(db *pg.DB) *PricingRuleRepository {
	return &PricingRuleRepository{
		db,
	}
}

func (r *PricingRuleRepository) Create(ctx context.Context, rule *model.PricingRule) (*model.PricingRule, error) {
	entity := toPricingRuleEntity(rule)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toPricingRuleModel(entity), nil
}

// ListActive returns the active rules that may price (platform, serviceType)
// for the user: the user's own rules, the company's rules when companyID is set,
// and the global ones. Only the matching service entries are loaded. Ordering
// across scopes is left to the caller.
func (r *PricingRuleRepository) ListActive(ctx context.Context, userID int64, companyID *int64, platform, serviceType string) ([]*model.PricingRule, error) {
	matching := r.Read(ctx).
		Model(&PricingRuleServiceEntity{}).
		Select("rule_id").
		Where("platform = ? AND service_type = ?", platform, serviceType)

	q := r.Read(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB {
			return db.Where("platform = ? AND service_type = ?", platform, serviceType).Order("id ASC")
		}).
		Where("active = ?", true).
		Where("id IN (?)", matching)

	scope := r.Read(ctx).Where("scope = ?", string(model.PricingScopeGlobal)).
		Or("scope = ? AND user_id = ?", string(model.PricingScopeUser), userID)
	if companyID != nil {
		scope = scope.Or("scope = ? AND company_id = ?", string(model.PricingScopeCompany), *companyID)
	}

	var entities []*PricingRuleEntity
	err := q.Where(scope).
		Order("priority DESC").
		Order("updated_at DESC").
		Order("id DESC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toPricingRuleModels(entities), nil
}

// SetActive toggles a rule.
func (r *PricingRuleRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.Write(ctx).Model(&PricingRuleEntity{}).Where("id = ?", id).Update("active", active).Error
}
