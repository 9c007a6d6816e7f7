package model

import (
	"errors"
	"strings"
)

// ErrOrderSettled reports a write that would move a settled order again.
var ErrOrderSettled = errors.New("order already settled")

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusFail       OrderStatus = "fail"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusAwaiting   OrderStatus = "awaiting"
)

var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusInProgress,
	OrderStatusCompleted,
	OrderStatusPartial,
	OrderStatusFail,
	OrderStatusCanceled,
	OrderStatusAwaiting,
}

// IsTerminal reports completed, fail and canceled.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFail, OrderStatusCanceled:
		return true
	}
	return false
}

// IsSettled reports whether the vendor is done with the order. Partial is
// settled but not terminal: it is accounted apart from completed.
func (s OrderStatus) IsSettled() bool {
	return s.IsTerminal() || s == OrderStatusPartial
}

// IsFailure reports outcomes that deliver nothing to the customer.
func (s OrderStatus) IsFailure() bool {
	return s == OrderStatusFail || s == OrderStatusCanceled
}

func (s OrderStatus) Valid() bool {
	for _, v := range AllOrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// SettledStatuses lists the statuses reconciliation no longer polls.
func SettledStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusCompleted, OrderStatusPartial, OrderStatusFail, OrderStatusCanceled}
}

// vendor spellings, keyed by their normalised form
var vendorStatuses = map[string]OrderStatus{
	"pending":             OrderStatusPending,
	"queued":              OrderStatusPending,
	"in progress":         OrderStatusInProgress,
	"inprogress":          OrderStatusInProgress,
	"processing":          OrderStatusInProgress,
	"active":              OrderStatusInProgress,
	"completed":           OrderStatusCompleted,
	"complete":            OrderStatusCompleted,
	"success":             OrderStatusCompleted,
	"partial":             OrderStatusPartial,
	"partially completed": OrderStatusPartial,
	"canceled":            OrderStatusCanceled,
	"cancelled":           OrderStatusCanceled,
	"refunded":            OrderStatusCanceled,
	"fail":                OrderStatusFail,
	"failed":              OrderStatusFail,
	"error":               OrderStatusFail,
	"awaiting":            OrderStatusAwaiting,
}

// NormalizeVendorStatus lowercases, trims and folds '_' and '-' into single
// spaces.
func NormalizeVendorStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// MapVendorStatus maps a vendor status string to an internal status. The
// second value is false when the string is unknown; the status is then
// pending.
func MapVendorStatus(s string) (OrderStatus, bool) {
	if st, ok := vendorStatuses[NormalizeVendorStatus(s)]; ok {
		return st, true
	}
	return OrderStatusPending, false
}
