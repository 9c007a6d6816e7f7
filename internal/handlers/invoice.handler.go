package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/model"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
	"github.com/shopspring/decimal"
)

type InvoiceService interface {
	CreateInvoice(ctx context.Context, orderID int64, opts model.InvoiceOptions) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*model.Invoice, error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
}

type InvoiceHandler struct {
	invoices InvoiceService
	orders   OrderReader
}

func RegisterInvoiceRoutes(e *router.Group, h *InvoiceHandler) {
	e.POST("/orders/{id}/invoice", h.CreateInvoice)
	e.GET("/invoices/{id}", h.GetInvoice)
}

func NewInvoiceHandler(invoices InvoiceService, orders OrderReader) *InvoiceHandler {
	return &InvoiceHandler{
		invoices: invoices,
		orders:   orders,
	}
}

type createInvoiceRequest struct {
	Multiplier *decimal.Decimal `json:"multiplier"`
	Currency   string           `json:"currency" validate:"omitempty,len=3"`
	Status     string           `json:"status"   validate:"omitempty,oneof=draft open paid void"`
}

func (h *InvoiceHandler) CreateInvoice(ctx *xhttp.RequestCtx) {
	userID, err := callerID(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	orderID, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, err)
		return
	}
	var req createInvoiceRequest
	if len(ctx.PostBody()) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, err)
			return
		}
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if order.UserID != userID {
		writeError(ctx, apperr.New(apperr.CodeNotFound, "order not found"))
		return
	}

	opts := model.InvoiceOptions{Currency: req.Currency, Status: model.InvoiceStatus(req.Status)}
	if req.Multiplier != nil {
		if !req.Multiplier.IsPositive() {
			writeError(ctx, apperr.New(apperr.CodeValidation, "multiplier must be positive"))
			return
		}
		opts.Multiplier = *req.Multiplier
	}

	inv, err := h.invoices.CreateInvoice(ctx, order.ID, opts)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 201, inv)
}

func (h *InvoiceHandler) GetInvoice(ctx *xhttp.RequestCtx) {
	userID, err := callerID(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, err)
		return
	}

	inv, err := h.invoices.GetInvoice(ctx, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if inv.UserID != userID {
		writeError(ctx, apperr.New(apperr.CodeNotFound, "invoice not found"))
		return
	}
	writeJSON(ctx, 200, inv)
}
