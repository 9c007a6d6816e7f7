package model

import "time"

type TransactionType string

const (
	TransactionDebit    TransactionType = "debit"
	TransactionRefund   TransactionType = "refund"
	TransactionPurchase TransactionType = "purchase"
)

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	OrderID       *int64          `json:"order_id,omitempty"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
