package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/model"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
)

type ProviderService interface {
	ProviderBalance(ctx context.Context) (*gateway.Balance, error)
}

type ProviderStatsSource interface {
	Stats() gateway.ProviderStats
}

type IntegrationLogReader interface {
	Recent(ctx context.Context, action string, limit int) ([]*model.IntegrationLogEntry, error)
}

type ProviderHandler struct {
	svc   ProviderService
	logs  IntegrationLogReader
	stats ProviderStatsSource
}

func RegisterProviderRoutes(e *router.Group, h *ProviderHandler) {
	e.GET("/provider/balance", h.GetBalance)
	e.GET("/provider/stats", h.GetStats)
	e.GET("/integration-logs", h.ListIntegrationLogs)
}

func NewProviderHandler(svc ProviderService, logs IntegrationLogReader) *ProviderHandler {
	return &ProviderHandler{
		svc:  svc,
		logs: logs,
	}
}

// WithStats exposes the client's call counters on /provider/stats.
func (h *ProviderHandler) WithStats(src ProviderStatsSource) *ProviderHandler {
	h.stats = src
	return h
}

func (h *ProviderHandler) GetBalance(ctx *xhttp.RequestCtx) {
	balance, err := h.svc.ProviderBalance(ctx)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{
		"balance":  balance.Balance.Decimal.String(),
		"currency": balance.Currency,
	})
}

func (h *ProviderHandler) ListIntegrationLogs(ctx *xhttp.RequestCtx) {
	limit, _ := strconv.Atoi(query(ctx, "limit"))
	entries, err := h.logs.Recent(ctx, query(ctx, "action"), limit)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, 200, listResponse[*model.IntegrationLogEntry]{Items: entries, Total: int64(len(entries))})
}

func (h *ProviderHandler) GetStats(ctx *xhttp.RequestCtx) {
	if h.stats == nil {
		writeError(ctx, apperr.New(apperr.CodeNotFound, "provider stats not available"))
		return
	}
	writeJSON(ctx, 200, h.stats.Stats())
}
