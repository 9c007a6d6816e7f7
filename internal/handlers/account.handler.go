package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/internal/services"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
)

type AccountService interface {
	TopUp(ctx context.Context, userID int64, req services.TopUpRequest) (*services.TopUpResult, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	Transactions(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error)
}

type AccountHandler struct {
	svc AccountService
}

func RegisterAccountRoutes(e *router.Group, h *AccountHandler) {
	e.POST("/users/{id}/credits", h.TopUp)
	e.GET("/users/{id}/balance", h.GetBalance)
	e.GET("/users/{id}/transactions", h.ListTransactions)
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type balanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// TopUp is an operator action: the path user is credited, not the caller.
func (h *AccountHandler) TopUp(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, err)
		return
	}
	var req services.TopUpRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}

	result, err := h.svc.TopUp(ctx, id, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 201, result)
}

func (h *AccountHandler) GetBalance(ctx *xhttp.RequestCtx) {
	id, err := h.self(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}

	balance, err := h.svc.Balance(ctx, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, balanceResponse{UserID: id, Balance: balance})
}

func (h *AccountHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	id, err := h.self(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}

	f := repository.TransactionFilter{UserID: id}
	if v := query(ctx, "type"); v != "" {
		t := model.TransactionType(v)
		switch t {
		case model.TransactionDebit, model.TransactionRefund, model.TransactionPurchase:
			f.Type = &t
		default:
			writeError(ctx, apperr.New(apperr.CodeValidation, "unknown transaction type "+v))
			return
		}
	}
	orderID, ok, err := queryInt(ctx, "order_id")
	if err != nil {
		writeError(ctx, err)
		return
	}
	if ok {
		f.OrderID = &orderID
	}
	f.Limit, f.Offset = page(ctx)

	items, total, err := h.svc.Transactions(ctx, f)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listResponse[*model.Transaction]{Items: items, Total: total})
}

// self resolves the path user and requires it to be the caller.
func (h *AccountHandler) self(ctx *xhttp.RequestCtx) (int64, error) {
	callerIDValue, err := callerID(ctx)
	if err != nil {
		return 0, err
	}
	id, err := pathInt64(ctx, "id")
	if err != nil {
		return 0, err
	}
	if id != callerIDValue {
		return 0, apperr.New(apperr.CodeNotFound, "user not found")
	}
	return id, nil
}
