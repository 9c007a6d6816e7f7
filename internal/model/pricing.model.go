package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PricingScope string

const (
	PricingScopeGlobal  PricingScope = "global"
	PricingScopeCompany PricingScope = "company"
	PricingScopeUser    PricingScope = "user"
)

type PricingRule struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Scope     PricingScope   `json:"scope"`
	CompanyID *int64         `json:"company_id,omitempty"`
	UserID    *int64         `json:"user_id,omitempty"`
	Priority  int            `json:"priority"`
	Active    bool           `json:"active"`
	Services  []ServicePrice `json:"services"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Match returns the entry priced for (platform, serviceType).
func (r *PricingRule) Match(platform, serviceType string) (*ServicePrice, bool) {
	for i := range r.Services {
		if r.Services[i].Platform == platform && r.Services[i].ServiceType == serviceType {
			return &r.Services[i], true
		}
	}
	return nil, false
}

type ServicePrice struct {
	Platform       string          `json:"platform"`
	ServiceType    string          `json:"service_type"`
	CreditsPerUnit decimal.Decimal `json:"credits_per_unit"`
	MinQuantity    int64           `json:"min_quantity"`
	MaxQuantity    int64           `json:"max_quantity"`
}

// Rate is what the pricing resolver hands out.
type Rate struct {
	CreditsPerUnit decimal.Decimal `json:"credits_per_unit"`
	MinQuantity    int64           `json:"min_quantity"`
	MaxQuantity    int64           `json:"max_quantity"`
	Source         string          `json:"source"`
	RuleID         *int64          `json:"rule_id,omitempty"`
}
