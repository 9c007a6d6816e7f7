package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

type OrderEntity struct {
	ID             int64           `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID         int64           `db:"user_id"         gorm:"column:user_id;not null;index"`
	CompanyID      *int64          `db:"company_id"      gorm:"column:company_id;index"`
	APIOrderID     *string         `db:"api_order_id"    gorm:"column:api_order_id;index"`
	ServiceID      int64           `db:"service_id"      gorm:"column:service_id;not null"`
	ServiceName    string          `db:"service_name"    gorm:"column:service_name"`
	Platform       string          `db:"platform"        gorm:"column:platform"`
	ServiceType    string          `db:"service_type"    gorm:"column:service_type"`
	Link           string          `db:"link"            gorm:"column:link;not null"`
	Quantity       int64           `db:"quantity"        gorm:"column:quantity;not null"`
	CreditsCharged int64           `db:"credits_charged" gorm:"column:credits_charged;not null;default:0"`
	Status         string          `db:"status"          gorm:"column:status;not null;index"`
	StartCount     *int64          `db:"start_count"     gorm:"column:start_count"`
	CurrentCount   *int64          `db:"current_count"   gorm:"column:current_count"`
	Remains        *int64          `db:"remains"         gorm:"column:remains"`
	Charge         decimal.Decimal `db:"charge"          gorm:"column:charge;type:numeric(20,8);not null;default:0"`
	Currency       string          `db:"currency"        gorm:"column:currency"`
	UpstreamError  string          `db:"upstream_error"  gorm:"column:upstream_error"`
	RefillID       *string         `db:"refill_id"       gorm:"column:refill_id"`
	InvoiceID      *int64          `db:"invoice_id"      gorm:"column:invoice_id"`
	SubmittedAt    *time.Time      `db:"submitted_at"    gorm:"column:submitted_at"`
	CompletedAt    *time.Time      `db:"completed_at"    gorm:"column:completed_at"`
	LastCheckedAt  *time.Time      `db:"last_checked_at" gorm:"column:last_checked_at;index"`
	CreatedAt      time.Time       `db:"created_at"      gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt      time.Time       `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderEntity) TableName() string {
	return "orders"
}

func toOrderEntity(m *model.Order) *OrderEntity {
	if m == nil {
		return nil
	}
	return &OrderEntity{
		ID:             m.ID,
		UserID:         m.UserID,
		CompanyID:      m.CompanyID,
		APIOrderID:     m.APIOrderID,
		ServiceID:      m.ServiceID,
		ServiceName:    m.ServiceName,
		Platform:       m.Platform,
		ServiceType:    m.ServiceType,
		Link:           m.Link,
		Quantity:       m.Quantity,
		CreditsCharged: m.CreditsCharged,
		Status:         string(m.Status),
		StartCount:     m.StartCount,
		CurrentCount:   m.CurrentCount,
		Remains:        m.Remains,
		Charge:         m.Charge,
		Currency:       m.Currency,
		UpstreamError:  m.UpstreamError,
		RefillID:       m.RefillID,
		InvoiceID:      m.InvoiceID,
		SubmittedAt:    m.SubmittedAt,
		CompletedAt:    m.CompletedAt,
		LastCheckedAt:  m.LastCheckedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toOrderModel(e *OrderEntity) *model.Order {
	if e == nil {
		return nil
	}
	return &model.Order{
		ID:             e.ID,
		UserID:         e.UserID,
		CompanyID:      e.CompanyID,
		APIOrderID:     e.APIOrderID,
		ServiceID:      e.ServiceID,
		ServiceName:    e.ServiceName,
		Platform:       e.Platform,
		ServiceType:    e.ServiceType,
		Link:           e.Link,
		Quantity:       e.Quantity,
		CreditsCharged: e.CreditsCharged,
		Status:         model.OrderStatus(e.Status),
		StartCount:     e.StartCount,
		CurrentCount:   e.CurrentCount,
		Remains:        e.Remains,
		Charge:         e.Charge,
		Currency:       e.Currency,
		UpstreamError:  e.UpstreamError,
		RefillID:       e.RefillID,
		InvoiceID:      e.InvoiceID,
		SubmittedAt:    e.SubmittedAt,
		CompletedAt:    e.CompletedAt,
		LastCheckedAt:  e.LastCheckedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toOrderModels(entities []*OrderEntity) []*model.Order {
	if entities == nil {
		return nil
	}
	models := make([]*model.Order, len(entities))
	for i, e := range entities {
		models[i] = toOrderModel(e)
	}
	return models
}
