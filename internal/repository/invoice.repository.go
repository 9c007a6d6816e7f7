package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrDuplicateInvoice = errors.New("invoice already exists for this source")
)

type InvoiceRepository struct {
	*pg.DB
}

func NewInvoiceRepository(db *pg.DB) *InvoiceRepository {
	return &InvoiceRepository{
		db,
	}
}

// Create inserts the invoice with its items. The unique source_ref and
// order_id columns turn a second invoice for the same source into
// ErrDuplicateInvoice.
func (r *InvoiceRepository) Create(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	entity := toInvoiceEntity(inv)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateInvoice
		}
		return nil, err
	}

	return toInvoiceModel(entity), nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*model.Invoice, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID int64) (*model.Invoice, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *InvoiceRepository) GetBySourceRef(ctx context.Context, ref string) (*model.Invoice, error) {
	return r.first(ctx, "source_ref = ?", ref)
}

func (r *InvoiceRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Invoice, error) {
	var entity InvoiceEntity
	err := r.Read(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where(query, args...).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return toInvoiceModel(&entity), nil
}
