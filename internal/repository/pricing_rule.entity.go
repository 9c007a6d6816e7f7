package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

type PricingRuleEntity struct {
	ID        int64                      `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Name      string                     `db:"name"       gorm:"column:name;not null"`
	Scope     string                     `db:"scope"      gorm:"column:scope;not null;index"`
	CompanyID *int64                     `db:"company_id" gorm:"column:company_id;index"`
	UserID    *int64                     `db:"user_id"    gorm:"column:user_id;index"`
	Priority  int                        `db:"priority"   gorm:"column:priority;not null;default:0"`
	Active    bool                       `db:"active"     gorm:"column:active;not null;default:true"`
	CreatedAt time.Time                  `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                  `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	Services  []PricingRuleServiceEntity `gorm:"foreignKey:RuleID"`
}

func (PricingRuleEntity) TableName() string {
	return "pricing_rules"
}

type PricingRuleServiceEntity struct {
	ID             int64           `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	RuleID         int64           `db:"rule_id"          gorm:"column:rule_id;not null;index"`
	Platform       string          `db:"platform"         gorm:"column:platform;not null;index:idx_rule_service_key"`
	ServiceType    string          `db:"service_type"     gorm:"column:service_type;not null;index:idx_rule_service_key"`
	CreditsPerUnit decimal.Decimal `db:"credits_per_unit" gorm:"column:credits_per_unit;type:numeric(20,8);not null"`
	MinQuantity    int64           `db:"min_quantity"     gorm:"column:min_quantity;not null;default:0"`
	MaxQuantity    int64           `db:"max_quantity"     gorm:"column:max_quantity;not null;default:0"`
}

func (PricingRuleServiceEntity) TableName() string {
	return "pricing_rule_services"
}

func toPricingRuleEntity(m *model.PricingRule) *PricingRuleEntity {
	if m == nil {
		return nil
	}
	e := &PricingRuleEntity{
		ID:        m.ID,
		Name:      m.Name,
		Scope:     string(m.Scope),
		CompanyID: m.CompanyID,
		UserID:    m.UserID,
		Priority:  m.Priority,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, s := range m.Services {
		e.Services = append(e.Services, PricingRuleServiceEntity{
			RuleID:         m.ID,
			Platform:       s.Platform,
			ServiceType:    s.ServiceType,
			CreditsPerUnit: s.CreditsPerUnit,
			MinQuantity:    s.MinQuantity,
			MaxQuantity:    s.MaxQuantity,
		})
	}
	return e
}

func toPricingRuleModel(e *PricingRuleEntity) *model.PricingRule {
	if e == nil {
		return nil
	}
	m := &model.PricingRule{
		ID:        e.ID,
		Name:      e.Name,
		Scope:     model.PricingScope(e.Scope),
		CompanyID: e.CompanyID,
		UserID:    e.UserID,
		Priority:  e.Priority,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	for _, s := range e.Services {
		m.Services = append(m.Services, model.ServicePrice{
			Platform:       s.Platform,
			ServiceType:    s.ServiceType,
			CreditsPerUnit: s.CreditsPerUnit,
			MinQuantity:    s.MinQuantity,
			MaxQuantity:    s.MaxQuantity,
		})
	}
	return m
}

func toPricingRuleModels(entities []*PricingRuleEntity) []*model.PricingRule {
	if entities == nil {
		return nil
	}
	models := make([]*model.PricingRule, len(entities))
	for i, e := range entities {
		models[i] = toPricingRuleModel(e)
	}
	return models
}
