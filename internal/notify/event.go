package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/engagement-reseller/internal/model"
)

type Kind string

const (
	KindLowCredit   Kind = "low_credit"
	KindOrderFailed Kind = "order_failed"
)

// Event is what travels on the notifications stream.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     int64     `json:"user_id"`
	OrderID    *int64    `json:"order_id,omitempty"`
	APIOrderID string    `json:"api_order_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Balance    int64     `json:"balance,omitempty"`
	Threshold  int64     `json:"threshold,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func LowCreditEvent(userID, balance, threshold int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindLowCredit,
		UserID:     userID,
		Balance:    balance,
		Threshold:  threshold,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderFailedEvent describes an order that will not deliver. order may be a
// draft that was never stored; its id is then left out.
func OrderFailedEvent(order *model.Order, reason string) Event {
	e := Event{
		ID:         uuid.NewString(),
		Kind:       KindOrderFailed,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if order.ID > 0 {
		id := order.ID
		e.OrderID = &id
	}
	if order.APIOrderID != nil {
		e.APIOrderID = *order.APIOrderID
	}
	return e
}
