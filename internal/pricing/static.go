package pricing

import (
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

type staticRate struct {
	platform    string
	serviceType string
	credits     string
	min         int64
	max         int64
}

var defaultRates = []staticRate{
	{"instagram", "followers", "0.5", 10, 1_000_000},
	{"instagram", "likes", "0.2", 10, 500_000},
	{"instagram", "views", "0.05", 100, 10_000_000},
	{"instagram", "story_views", "0.05", 100, 1_000_000},
	{"instagram", "comments", "2", 5, 10_000},
	{"tiktok", "followers", "0.6", 10, 1_000_000},
	{"tiktok", "likes", "0.2", 10, 1_000_000},
	{"tiktok", "views", "0.02", 100, 10_000_000},
	{"tiktok", "shares", "0.3", 10, 100_000},
	{"youtube", "subscribers", "3", 10, 100_000},
	{"youtube", "views", "0.4", 100, 1_000_000},
	{"youtube", "likes", "0.5", 10, 100_000},
	{"facebook", "followers", "0.6", 10, 500_000},
	{"facebook", "likes", "0.4", 10, 500_000},
	{"twitter", "followers", "1", 10, 200_000},
	{"twitter", "likes", "0.5", 10, 200_000},
	{"telegram", "members", "0.5", 10, 500_000},
	{"telegram", "views", "0.02", 100, 1_000_000},
	{"spotify", "plays", "0.1", 500, 10_000_000},
}

// DefaultStaticRates is the table used when no pricing rule covers a service.
func DefaultStaticRates() map[Key]model.ServicePrice {
	out := make(map[Key]model.ServicePrice, len(defaultRates))
	for _, r := range defaultRates {
		out[Key{Platform: r.platform, ServiceType: r.serviceType}] = model.ServicePrice{
			Platform:       r.platform,
			ServiceType:    r.serviceType,
			CreditsPerUnit: decimal.RequireFromString(r.credits),
			MinQuantity:    r.min,
			MaxQuantity:    r.max,
		}
	}
	return out
}
