package handlers

import (
	"context"
	"slices"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/model"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, req model.CreateOrderRequest) (*model.OrderResult, error)
	Quote(ctx context.Context, userID, serviceID, quantity int64) (*model.Quote, error)
	ListServices(ctx context.Context) ([]model.ServiceCatalogEntry, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error)
	RequestRefill(ctx context.Context, userID, orderID int64) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
	CheckOrder(ctx context.Context, userID, orderID int64) (*model.Order, error)
}

type OrderHandler struct {
	svc OrderService
}

func RegisterOrderRoutes(e *router.Group, h *OrderHandler) {
	e.GET("/services", h.ListServices)
	e.GET("/quote", h.Quote)
	e.POST("/orders", h.CreateOrder)
	e.GET("/orders", h.ListOrders)
	e.GET("/orders/{id}", h.GetOrder)
	e.POST("/orders/{id}/check", h.CheckOrder)
	e.POST("/orders/{id}/refill", h.RequestRefill)
	e.POST("/orders/{id}/cancel", h.CancelOrder)
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func (h *OrderHandler) CreateOrder(ctx *xhttp.RequestCtx) {
	userID, err := callerID(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	var req model.CreateOrderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}

	result, err := h.svc.CreateOrder(ctx, userID, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 201, result)
}

func (h *OrderHandler) Quote(ctx *xhttp.RequestCtx) {
	userID, err := callerID(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	serviceID, ok, err := queryInt(ctx, "service_id")
	if err == nil && !ok {
		err = apperr.New(apperr.CodeValidation, "service_id is required")
	}
	if err != nil {
		writeError(ctx, err)
		return
	}
	quantity, ok, err := queryInt(ctx, "quantity")
	if err == nil && !ok {
		err = apperr.New(apperr.CodeValidation, "quantity is required")
	}
	if err != nil {
		writeError(ctx, err)
		return
	}

	quote, err := h.svc.Quote(ctx, userID, serviceID, quantity)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, quote)
}

func (h *OrderHandler) ListServices(ctx *xhttp.RequestCtx) {
	entries, err := h.svc.ListServices(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if p := query(ctx, "platform"); p != "" {
		entries = slices.DeleteFunc(entries, func(e model.ServiceCatalogEntry) bool {
			return !strings.EqualFold(e.Platform, p)
		})
	}
	writeJSON(ctx, 200, listResponse[model.ServiceCatalogEntry]{Items: entries, Total: int64(len(entries))})
}

func (h *OrderHandler) GetOrder(ctx *xhttp.RequestCtx) {
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

	order, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if order.UserID != userID {
		writeError(ctx, apperr.New(apperr.CodeNotFound, "order not found"))
		return
	}
	writeJSON(ctx, 200, order)
}

func (h *OrderHandler) ListOrders(ctx *xhttp.RequestCtx) {
	userID, err := callerID(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}

	f := model.OrderFilter{UserID: &userID}
	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			s := model.OrderStatus(strings.TrimSpace(part))
			if !s.Valid() {
				writeError(ctx, apperr.New(apperr.CodeValidation, "unknown status "+part))
				return
			}
			f.Statuses = append(f.Statuses, s)
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	f.Limit, f.Offset = page(ctx)
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListOrders(ctx, f)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listResponse[*model.Order]{Items: items, Total: total})
}

func (h *OrderHandler) CheckOrder(ctx *xhttp.RequestCtx) {
	h.ownedAction(ctx, h.svc.CheckOrder)
}

func (h *OrderHandler) RequestRefill(ctx *xhttp.RequestCtx) {
	h.ownedAction(ctx, h.svc.RequestRefill)
}

func (h *OrderHandler) CancelOrder(ctx *xhttp.RequestCtx) {
	h.ownedAction(ctx, h.svc.CancelOrder)
}

func (h *OrderHandler) ownedAction(ctx *xhttp.RequestCtx, action func(context.Context, int64, int64) (*model.Order, error)) {
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

	order, err := action(ctx, userID, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, order)
}
