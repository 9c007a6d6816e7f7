package model

import "time"

// User is a tenant user. The credit ledger lives on the same row.
type User struct {
	ID             int64     `json:"id"`
	CompanyID      *int64    `json:"company_id,omitempty"`
	Email          string    `json:"email"`
	Balance        int64     `json:"balance"`
	TotalPurchased int64     `json:"total_purchased"`
	TotalSpent     int64     `json:"total_spent"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (u *User) HasTenant() bool {
	return u != nil && u.CompanyID != nil && *u.CompanyID > 0
}

type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerMovement is the outcome of one balance mutation.
type LedgerMovement struct {
	UserID        int64 `json:"user_id"`
	Amount        int64 `json:"amount"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}
