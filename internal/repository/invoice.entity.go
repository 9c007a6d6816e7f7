package repository

import (
	"time"

	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/shopspring/decimal"
)

type InvoiceEntity struct {
	ID         int64               `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	Number     string              `db:"number"      gorm:"column:number;not null;uniqueIndex"`
	UserID     int64               `db:"user_id"     gorm:"column:user_id;not null;index"`
	CompanyID  *int64              `db:"company_id"  gorm:"column:company_id;index"`
	OrderID    *int64              `db:"order_id"    gorm:"column:order_id;uniqueIndex"`
	SourceRef  string              `db:"source_ref"  gorm:"column:source_ref;not null;uniqueIndex"`
	Status     string              `db:"status"      gorm:"column:status;not null"`
	Currency   string              `db:"currency"    gorm:"column:currency;not null"`
	Multiplier decimal.Decimal     `db:"multiplier"  gorm:"column:multiplier;type:numeric(20,8);not null"`
	Subtotal   decimal.Decimal     `db:"subtotal"    gorm:"column:subtotal;type:numeric(20,8);not null"`
	Total      decimal.Decimal     `db:"total"       gorm:"column:total;type:numeric(20,8);not null"`
	IssuedAt   time.Time           `db:"issued_at"   gorm:"column:issued_at;not null"`
	Items      []InvoiceItemEntity `gorm:"foreignKey:InvoiceID"`
}

func (InvoiceEntity) TableName() string {
	return "invoices"
}

type InvoiceItemEntity struct {
	ID          int64           `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	InvoiceID   int64           `db:"invoice_id"  gorm:"column:invoice_id;not null;index"`
	Description string          `db:"description" gorm:"column:description;not null"`
	Quantity    int64           `db:"quantity"    gorm:"column:quantity;not null"`
	UnitPrice   decimal.Decimal `db:"unit_price"  gorm:"column:unit_price;type:numeric(20,8);not null"`
	Amount      decimal.Decimal `db:"amount"      gorm:"column:amount;type:numeric(20,8);not null"`
}

func (InvoiceItemEntity) TableName() string {
	return "invoice_items"
}

func toInvoiceEntity(m *model.Invoice) *InvoiceEntity {
	if m == nil {
		return nil
	}
	e := &InvoiceEntity{
		ID:         m.ID,
		Number:     m.Number,
		UserID:     m.UserID,
		CompanyID:  m.CompanyID,
		OrderID:    m.OrderID,
		SourceRef:  m.SourceRef,
		Status:     string(m.Status),
		Currency:   m.Currency,
		Multiplier: m.Multiplier,
		Subtotal:   m.Subtotal,
		Total:      m.Total,
		IssuedAt:   m.IssuedAt,
	}
	for _, it := range m.Items {
		e.Items = append(e.Items, InvoiceItemEntity{
			ID:          it.ID,
			InvoiceID:   it.InvoiceID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.Amount,
		})
	}
	return e
}

func toInvoiceModel(e *InvoiceEntity) *model.Invoice {
	if e == nil {
		return nil
	}
	m := &model.Invoice{
		ID:         e.ID,
		Number:     e.Number,
		UserID:     e.UserID,
		CompanyID:  e.CompanyID,
		OrderID:    e.OrderID,
		SourceRef:  e.SourceRef,
		Status:     model.InvoiceStatus(e.Status),
		Currency:   e.Currency,
		Multiplier: e.Multiplier,
		Subtotal:   e.Subtotal,
		Total:      e.Total,
		IssuedAt:   e.IssuedAt,
	}
	for _, it := range e.Items {
		m.Items = append(m.Items, model.InvoiceItem{
			ID:          it.ID,
			InvoiceID:   it.InvoiceID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.Amount,
		})
	}
	return m
}
