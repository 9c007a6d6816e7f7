package model

import "github.com/shopspring/decimal"

// ServiceCatalogEntry is one upstream service as listed by the vendor.
// Platform and ServiceType are derived locally and key the pricing rules.
type ServiceCatalogEntry struct {
	ServiceID   int64           `json:"service"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Platform    string          `json:"platform"`
	ServiceType string          `json:"service_type"`
	Rate        decimal.Decimal `json:"rate"`
	Min         int64           `json:"min"`
	Max         int64           `json:"max"`
	Refill      bool            `json:"refill"`
	Cancel      bool            `json:"cancel"`
}

func (e *ServiceCatalogEntry) AcceptsQuantity(quantity int64) bool {
	if quantity <= 0 {
		return false
	}
	if e.Min > 0 && quantity < e.Min {
		return false
	}
	if e.Max > 0 && quantity > e.Max {
		return false
	}
	return true
}
