package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	CompanyID      *int64          `json:"company_id,omitempty"`
	APIOrderID     *string         `json:"api_order_id,omitempty"`
	ServiceID      int64           `json:"service_id"`
	ServiceName    string          `json:"service_name"`
	Platform       string          `json:"platform"`
	ServiceType    string          `json:"service_type"`
	Link           string          `json:"link"`
	Quantity       int64           `json:"quantity"`
	CreditsCharged int64           `json:"credits_charged"`
	Status         OrderStatus     `json:"status"`
	StartCount     *int64          `json:"start_count,omitempty"`
	CurrentCount   *int64          `json:"current_count,omitempty"`
	Remains        *int64          `json:"remains,omitempty"`
	Charge         decimal.Decimal `json:"charge"`
	Currency       string          `json:"currency,omitempty"`
	UpstreamError  string          `json:"upstream_error,omitempty"`
	RefillID       *string         `json:"refill_id,omitempty"`
	InvoiceID      *int64          `json:"invoice_id,omitempty"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	LastCheckedAt  *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateOrderRequest is what a tenant user asks for.
type CreateOrderRequest struct {
	ServiceID int64  `json:"service_id" validate:"required,gt=0"`
	Link      string `json:"link"       validate:"required,max=2048"`
	Quantity  int64  `json:"quantity"   validate:"required,gt=0"`
}

func (r CreateOrderRequest) Validate() error {
	if r.ServiceID <= 0 {
		return errors.New("service_id is required")
	}
	if strings.TrimSpace(r.Link) == "" {
		return errors.New("link is required")
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	return nil
}

// OrderResult is returned by admission. UpstreamError is set on a degraded
// success: the vendor returned an order id together with an error.
type OrderResult struct {
	Order           *Order `json:"order"`
	CreditsDeducted int64  `json:"credits_deducted"`
	UpstreamOrderID string `json:"upstream_order_id"`
	UpstreamError   string `json:"upstream_error,omitempty"`
	BalanceAfter    int64  `json:"balance_after"`
}

// Quote is a priced order that has not been admitted.
type Quote struct {
	Service  *ServiceCatalogEntry `json:"service"`
	Quantity int64                `json:"quantity"`
	Credits  int64                `json:"credits"`
	Rate     *Rate                `json:"rate"`
}

// OrderFilter controls List queries.
type OrderFilter struct {
	UserID   *int64
	Statuses []OrderStatus
	From     *time.Time
	To       *time.Time
	Limit    int // default 50
	Offset   int
	Desc     bool // order by created_at
}

// StatusUpdate is the vendor view of one order, already parsed.
type StatusUpdate struct {
	Status     string
	StartCount *int64
	Remains    *int64
	Charge     *decimal.Decimal
	Currency   string
}
