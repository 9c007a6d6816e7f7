package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
)

type HealthService interface {
	Check(ctx context.Context) (map[string]string, error)
}
type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	checks, err := h.svc.Check(ctx)
	if err != nil {
		writeJSON(ctx, 503, healthResponse{Status: "degraded", Checks: checks})
		return
	}
	writeJSON(ctx, 200, healthResponse{Status: "ok", Checks: checks})
}
