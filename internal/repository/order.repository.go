package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyLinked = errors.New("order already has an invoice")
)

type OrderRepository struct {
	*pg.DB
}

func NewOrderRepository(db *pg.DB) *OrderRepository {
	return &OrderRepository{
		db,
	}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) (*model.Order, error) {
	entity := toOrderEntity(order)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toOrderModel(entity), nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var entity OrderEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return toOrderModel(&entity), nil
}

func (r *OrderRepository) List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error) {
	q := r.Read(ctx).Model(&OrderEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at ASC, id ASC"
	if f.Desc {
		order = "created_at DESC, id DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*OrderEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toOrderModels(entities), total, nil
}

// ListStale returns orders the vendor is still working on, least recently
// checked first. Orders never checked come first.
func (r *OrderRepository) ListStale(ctx context.Context, limit int) ([]*model.Order, error) {
	var entities []*OrderEntity
	err := r.unsettled(ctx).
		Order("CASE WHEN last_checked_at IS NULL THEN 0 ELSE 1 END").
		Order("last_checked_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toOrderModels(entities), nil
}

// ListUnsettledAfter pages through every unsettled order by id.
func (r *OrderRepository) ListUnsettledAfter(ctx context.Context, afterID int64, limit int) ([]*model.Order, error) {
	var entities []*OrderEntity
	err := r.unsettled(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toOrderModels(entities), nil
}

func (r *OrderRepository) unsettled(ctx context.Context) *gorm.DB {
	return r.Read(ctx).
		Model(&OrderEntity{}).
		Where("api_order_id IS NOT NULL AND api_order_id <> ''").
		Where("status NOT IN ?", statusStrings(model.SettledStatuses()))
}

// UpdateProgress writes the vendor-driven columns of an order. A settled row
// is never written back to a non-settled status, and a settled status is not
// written twice; both cases return model.ErrOrderSettled.
func (r *OrderRepository) UpdateProgress(ctx context.Context, order *model.Order) error {
	q := r.Write(ctx).
		Model(&OrderEntity{}).
		Where("id = ?", order.ID)
	if order.Status.IsSettled() {
		q = q.Where("status <> ?", string(order.Status))
	} else {
		q = q.Where("status NOT IN ?", statusStrings(model.SettledStatuses()))
	}

	result := q.Updates(map[string]interface{}{
		"status":          string(order.Status),
		"start_count":     order.StartCount,
		"current_count":   order.CurrentCount,
		"remains":         order.Remains,
		"charge":          order.Charge,
		"currency":        order.Currency,
		"completed_at":    order.CompletedAt,
		"last_checked_at": order.LastCheckedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.Write(ctx).Model(&OrderEntity{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrOrderNotFound
	}
	return model.ErrOrderSettled
}

// Touch marks orders as checked without changing anything else.
func (r *OrderRepository) Touch(ctx context.Context, at time.Time, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.Write(ctx).
		Model(&OrderEntity{}).
		Where("id IN ?", ids).
		UpdateColumn("last_checked_at", at).
		Error
}

func (r *OrderRepository) SetRefillID(ctx context.Context, id int64, refillID string) error {
	result := r.Write(ctx).
		Model(&OrderEntity{}).
		Where("id = ?", id).
		Update("refill_id", refillID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// LinkInvoice sets orders.invoice_id once. A second link fails with
// ErrOrderAlreadyLinked.
func (r *OrderRepository) LinkInvoice(ctx context.Context, orderID, invoiceID int64) error {
	result := r.Write(ctx).
		Model(&OrderEntity{}).
		Where("id = ? AND invoice_id IS NULL", orderID).
		Update("invoice_id", invoiceID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, orderID); err != nil {
		return err
	}
	return ErrOrderAlreadyLinked
}

func statusStrings(statuses []model.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
