package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	DefaultInvoiceMultiplier = 8
	DefaultInvoiceCurrency   = "USD"

	invoicePricePlaces = 8
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *model.Invoice) (*model.Invoice, error)
	GetByID(ctx context.Context, id int64) (*model.Invoice, error)
	GetBySourceRef(ctx context.Context, ref string) (*model.Invoice, error)
}

type InvoiceOrderRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	LinkInvoice(ctx context.Context, orderID, invoiceID int64) error
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type InvoiceServiceConfig struct {
	Multiplier    decimal.Decimal
	Currency      string
	SnowflakeNode int64
}

type InvoiceService struct {
	invoices InvoiceRepository
	orders   InvoiceOrderRepository
	tx       Transactor
	numbers  *snowflake.Node
	config   InvoiceServiceConfig
}

func NewInvoiceService(invoices InvoiceRepository, orders InvoiceOrderRepository, tx Transactor, config InvoiceServiceConfig) (*InvoiceService, error) {
	if config.Multiplier.IsZero() {
		config.Multiplier = decimal.NewFromInt(DefaultInvoiceMultiplier)
	}
	if !config.Multiplier.IsPositive() {
		return nil, errors.Errorf("invoice multiplier must be positive, got %s", config.Multiplier)
	}
	if config.Currency == "" {
		config.Currency = DefaultInvoiceCurrency
	}

	node, err := snowflake.NewNode(config.SnowflakeNode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create invoice number generator")
	}

	return &InvoiceService{
		invoices: invoices,
		orders:   orders,
		tx:       tx,
		numbers:  node,
		config:   config,
	}, nil
}

// CreateInvoice bills one order. An order that already points at an invoice
// fails with AlreadyInvoiced and nothing is written.
func (s *InvoiceService) CreateInvoice(ctx context.Context, orderID int64, opts model.InvoiceOptions) (*model.Invoice, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, coded(err, "order not found")
	}
	if order.InvoiceID != nil {
		return nil, coded(ErrAlreadyInvoiced, fmt.Sprintf("order %d already has invoice %d", order.ID, *order.InvoiceID))
	}

	return s.Generate(ctx, OrderBillable(order), opts)
}

// OrderBillable describes an order as something to bill.
func OrderBillable(order *model.Order) model.Billable {
	id := order.ID
	description := order.ServiceName
	if description == "" {
		description = fmt.Sprintf("Service #%d", order.ServiceID)
	}
	if order.Link != "" {
		description += " - " + order.Link
	}
	return model.Billable{
		UserID:      order.UserID,
		CompanyID:   order.CompanyID,
		OrderID:     &id,
		SourceRef:   fmt.Sprintf("order:%d", order.ID),
		Description: description,
		Quantity:    order.Quantity,
		Credits:     order.CreditsCharged,
	}
}

// Generate writes an invoice for any billable record. When the billable is an
// order, the invoice and the order link are written in one transaction.
func (s *InvoiceService) Generate(ctx context.Context, b model.Billable, opts model.InvoiceOptions) (*model.Invoice, error) {
	if strings.TrimSpace(b.SourceRef) == "" {
		return nil, coded(ErrMissingSourceRef, "source reference is required")
	}
	if b.Credits <= 0 || b.Quantity <= 0 {
		return nil, coded(ErrInvalidInvoiceAmt, "billable amount must be positive")
	}

	opts, err := s.options(opts)
	if err != nil {
		return nil, err
	}

	if existing, err := s.invoices.GetBySourceRef(ctx, b.SourceRef); err == nil {
		return nil, coded(ErrAlreadyInvoiced, fmt.Sprintf("%s already has invoice %s", b.SourceRef, existing.Number))
	}

	draft := s.build(b, opts)

	var created *model.Invoice
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.Create(ctx, draft)
		if err != nil {
			return err
		}
		if b.OrderID != nil {
			if err := s.orders.LinkInvoice(ctx, *b.OrderID, inv.ID); err != nil {
				return err
			}
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, coded(err, "failed to create invoice")
	}

	logger.Info("Invoice created", "invoice_id", created.ID, "number", created.Number, "source_ref", created.SourceRef, "total", created.Total.String())
	return created, nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, id int64) (*model.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, coded(err, "invoice not found")
	}
	return inv, nil
}

func (s *InvoiceService) options(opts model.InvoiceOptions) (model.InvoiceOptions, error) {
	if opts.Multiplier.IsZero() {
		opts.Multiplier = s.config.Multiplier
	}
	if !opts.Multiplier.IsPositive() {
		return opts, apperr.New(apperr.CodeValidation, "multiplier must be positive")
	}
	if opts.Currency == "" {
		opts.Currency = s.config.Currency
	}
	if opts.Status == "" {
		opts.Status = model.InvoiceStatusPaid
	}
	if !opts.Status.Valid() {
		return opts, apperr.New(apperr.CodeValidation, fmt.Sprintf("unknown invoice status %q", opts.Status))
	}
	return opts, nil
}

func (s *InvoiceService) build(b model.Billable, opts model.InvoiceOptions) *model.Invoice {
	credits := decimal.NewFromInt(b.Credits)
	amount := credits.Mul(opts.Multiplier)
	unitPrice := credits.Div(decimal.NewFromInt(b.Quantity)).Mul(opts.Multiplier).Round(invoicePricePlaces)

	return &model.Invoice{
		Number:     "INV-" + s.numbers.Generate().String(),
		UserID:     b.UserID,
		CompanyID:  b.CompanyID,
		OrderID:    b.OrderID,
		SourceRef:  b.SourceRef,
		Status:     opts.Status,
		Currency:   opts.Currency,
		Multiplier: opts.Multiplier,
		Subtotal:   amount,
		Total:      amount,
		Items: []model.InvoiceItem{
			{
				Description: b.Description,
				Quantity:    b.Quantity,
				UnitPrice:   unitPrice,
				Amount:      amount,
			},
		},
		IssuedAt: time.Now().UTC(),
	}
}
