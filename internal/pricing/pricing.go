package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrOutOfBounds = errors.New("quantity out of bounds")
	ErrInvalidRate = errors.New("invalid rate")
)

const (
	SourceStatic = "static"
	SourceFlat   = "flat"

	FlatMinQuantity = 10
	FlatMaxQuantity = 1_000_000
)

type RuleSource interface {
	ListActive(ctx context.Context, userID int64, companyID *int64, platform, serviceType string) ([]*model.PricingRule, error)
}

type UserSource interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
}

type Key struct {
	Platform    string
	ServiceType string
}

type Options struct {
	// StaticRates is consulted when no rule matches. Nil means DefaultStaticRates.
	StaticRates map[Key]model.ServicePrice
	// FlatRate is the last resort, in credits per unit. Zero means 1.
	FlatRate decimal.Decimal
}

// Resolver turns (user, platform, serviceType, quantity) into credits. It only
// reads, so the same inputs give the same price until a rule changes.
type Resolver struct {
	rules  RuleSource
	users  UserSource
	static map[Key]model.ServicePrice
	flat   decimal.Decimal
}

func NewResolver(rules RuleSource, users UserSource, opts Options) (*Resolver, error) {
	if opts.StaticRates == nil {
		opts.StaticRates = DefaultStaticRates()
	}
	if opts.FlatRate.IsZero() {
		opts.FlatRate = decimal.NewFromInt(1)
	}
	if !opts.FlatRate.IsPositive() {
		return nil, fmt.Errorf("%w: flat rate %s", ErrInvalidRate, opts.FlatRate)
	}
	return &Resolver{
		rules:  rules,
		users:  users,
		static: opts.StaticRates,
		flat:   opts.FlatRate,
	}, nil
}

func (r *Resolver) ResolveRate(ctx context.Context, userID int64, platform, serviceType string) (*model.Rate, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	candidates, err := r.rules.ListActive(ctx, userID, user.CompanyID, platform, serviceType)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}

	if rule, price := pick(candidates, user, platform, serviceType); rule != nil {
		id := rule.ID
		return &model.Rate{
			CreditsPerUnit: price.CreditsPerUnit,
			MinQuantity:    price.MinQuantity,
			MaxQuantity:    price.MaxQuantity,
			Source:         string(rule.Scope),
			RuleID:         &id,
		}, nil
	}

	if price, ok := r.static[Key{Platform: platform, ServiceType: serviceType}]; ok {
		return &model.Rate{
			CreditsPerUnit: price.CreditsPerUnit,
			MinQuantity:    price.MinQuantity,
			MaxQuantity:    price.MaxQuantity,
			Source:         SourceStatic,
		}, nil
	}

	return &model.Rate{
		CreditsPerUnit: r.flat,
		MinQuantity:    FlatMinQuantity,
		MaxQuantity:    FlatMaxQuantity,
		Source:         SourceFlat,
	}, nil
}

func (r *Resolver) CalculateCredits(ctx context.Context, userID int64, platform, serviceType string, quantity int64) (int64, error) {
	rate, err := r.ResolveRate(ctx, userID, platform, serviceType)
	if err != nil {
		return 0, err
	}
	if err := CheckBounds(rate, quantity); err != nil {
		return 0, err
	}
	return Cost(rate.CreditsPerUnit, quantity)
}

// CheckBounds treats a zero max as unbounded.
func CheckBounds(rate *model.Rate, quantity int64) error {
	if quantity <= 0 || quantity < rate.MinQuantity || (rate.MaxQuantity > 0 && quantity > rate.MaxQuantity) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfBounds, quantity, rate.MinQuantity, rate.MaxQuantity)
	}
	return nil
}

var maxCredits = decimal.NewFromInt(math.MaxInt64)

// Cost is ceil(quantity * creditsPerUnit). A cost that does not fit in int64
// is out of bounds.
func Cost(creditsPerUnit decimal.Decimal, quantity int64) (int64, error) {
	cost := decimal.NewFromInt(quantity).Mul(creditsPerUnit).Ceil()
	if cost.GreaterThan(maxCredits) {
		return 0, fmt.Errorf("%w: %d x %s overflows credits", ErrOutOfBounds, quantity, creditsPerUnit)
	}
	return cost.IntPart(), nil
}

// pick applies scope matching and ordering again on top of the store, which
// keeps the resolver correct against any RuleSource.
func pick(rules []*model.PricingRule, user *model.User, platform, serviceType string) (*model.PricingRule, *model.ServicePrice) {
	matching := make([]*model.PricingRule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || !rule.Active || !inScope(rule, user) {
			continue
		}
		if _, ok := rule.Match(platform, serviceType); ok {
			matching = append(matching, rule)
		}
	}
	if len(matching) == 0 {
		return nil, nil
	}

	sort.SliceStable(matching, func(i, j int) bool {
		a, b := matching[i], matching[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})

	price, _ := matching[0].Match(platform, serviceType)
	return matching[0], price
}

func inScope(rule *model.PricingRule, user *model.User) bool {
	switch rule.Scope {
	case model.PricingScopeGlobal:
		return true
	case model.PricingScopeUser:
		return rule.UserID != nil && *rule.UserID == user.ID
	case model.PricingScopeCompany:
		return rule.CompanyID != nil && user.CompanyID != nil && *rule.CompanyID == *user.CompanyID
	}
	return false
}
