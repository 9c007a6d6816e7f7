package reconciler

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

// ApplyStatus folds one vendor status into order and reports whether anything
// worth persisting changed. The result overwrites previous values: applying
// the same update twice leaves the order as after the first time.
//
// A settled order never goes back to a non-settled status and its counters,
// charge and currency stay as they were when it settled. Delivered is
// quantity minus remains; the after count is the before count plus delivered,
// or delivered alone when the before count is unknown.
func ApplyStatus(order *model.Order, u model.StatusUpdate, now time.Time) bool {
	changed := false
	settled := order.Status.IsSettled()

	next, known := model.MapVendorStatus(u.Status)
	if !known {
		logger.Warn("Unknown vendor status, treating as pending", "order_id", order.ID, "vendor_status", u.Status)
	}
	if settled && !next.IsSettled() {
		logger.Warn("Ignoring status regression", "order_id", order.ID, "from", order.Status, "to", next)
		next = order.Status
	}
	if next != order.Status {
		order.Status = next
		changed = true
	}

	if settled {
		u = model.StatusUpdate{}
	}

	if order.StartCount == nil && u.StartCount != nil && *u.StartCount > 0 {
		before := *u.StartCount
		order.StartCount = &before
		changed = true
	}

	if u.Remains != nil {
		remains := *u.Remains
		if remains < 0 {
			remains = 0
		}
		if remains > order.Quantity {
			remains = order.Quantity
		}
		delivered := order.Quantity - remains
		after := delivered
		if order.StartCount != nil {
			after = *order.StartCount + delivered
		}

		if !equalCount(order.Remains, remains) {
			order.Remains = &remains
			changed = true
		}
		if !equalCount(order.CurrentCount, after) {
			order.CurrentCount = &after
			changed = true
		}
	}

	if u.Charge != nil && !u.Charge.Equal(order.Charge) {
		order.Charge = *u.Charge
		changed = true
	}
	if u.Currency != "" && u.Currency != order.Currency {
		order.Currency = u.Currency
		changed = true
	}

	if order.Status.IsSettled() && order.CompletedAt == nil {
		at := now
		order.CompletedAt = &at
		changed = true
	}

	checked := now
	order.LastCheckedAt = &checked
	return changed
}

func equalCount(current *int64, v int64) bool {
	return current != nil && *current == v
}
