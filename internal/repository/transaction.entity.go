package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
)

type TransactionEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	UserID        int64     `db:"user_id"        gorm:"column:user_id;not null;index"`
	OrderID       *int64    `db:"order_id"       gorm:"column:order_id;index"`
	Type          string    `db:"type"           gorm:"column:type;not null"`
	Amount        int64     `db:"amount"         gorm:"column:amount;not null"`
	BalanceBefore int64     `db:"balance_before" gorm:"column:balance_before;not null"`
	BalanceAfter  int64     `db:"balance_after"  gorm:"column:balance_after;not null"`
	Reference     string    `db:"reference"      gorm:"column:reference"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime;index"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:            m.ID,
		UserID:        m.UserID,
		OrderID:       m.OrderID,
		Type:          string(m.Type),
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Reference:     m.Reference,
		CreatedAt:     m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:            e.ID,
		UserID:        e.UserID,
		OrderID:       e.OrderID,
		Type:          model.TransactionType(e.Type),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Reference:     e.Reference,
		CreatedAt:     e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
