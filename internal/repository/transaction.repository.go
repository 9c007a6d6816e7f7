package repository

import (
	"context"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

type TransactionFilter struct {
	UserID  int64
	Type    *model.TransactionType
	OrderID *int64
	Limit   int
	Offset  int
}

// List returns a user's transactions, newest first.
func (r *TransactionRepository) List(ctx context.Context, f TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).Model(&TransactionEntity{}).Where("user_id = ?", f.UserID)
	if f.Type != nil {
		q = q.Where("type = ?", string(*f.Type))
	}
	if f.OrderID != nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toTransactionModels(entities), total, nil
}
