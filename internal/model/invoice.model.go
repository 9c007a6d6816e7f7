package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusOpen  InvoiceStatus = "open"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}

type Invoice struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	UserID     int64           `json:"user_id"`
	CompanyID  *int64          `json:"company_id,omitempty"`
	OrderID    *int64          `json:"order_id,omitempty"`
	SourceRef  string          `json:"source_ref"`
	Status     InvoiceStatus   `json:"status"`
	Currency   string          `json:"currency"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
	Items      []InvoiceItem   `json:"items"`
	IssuedAt   time.Time       `json:"issued_at"`
}

type InvoiceItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// InvoiceOptions tune invoice generation. Zero values take the configured
// defaults.
type InvoiceOptions struct {
	Multiplier decimal.Decimal
	Currency   string
	Status     InvoiceStatus
}

// Billable is anything that can be invoiced: an order, a top-up, a
// subscription charge.
type Billable struct {
	UserID      int64
	CompanyID   *int64
	OrderID     *int64
	SourceRef   string
	Description string
	Quantity    int64
	Credits     int64
}
