package xhttp

import (
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/valyala/fasthttp"
)

const (
	slowThreshold = 500 * time.Millisecond

	HeaderRequestID = "X-Request-ID"
	// RequestIDKey is the user value holding the request id.
	RequestIDKey = "request_id"
)

var skipPaths = []string{"/health", "/api/v1/health", "/metrics"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

// ObserveFunc receives one finished request. route is the matched pattern,
// not the raw path, so ids do not explode label cardinality.
type ObserveFunc func(route, method string, status int, latency time.Duration)

func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.TimeoutWithCodeHandler(next, timeout, StatusText(StatusRequestTimeout), StatusRequestTimeout)
	}
}

func CompressMiddleware(level int) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.CompressHandlerBrotliLevel(next, level, level)
	}
}

func RecoverMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("[xhttp] panic recovered", "error", err, "path", string(ctx.Path()), "request_id", RequestID(ctx))
				writeProblem(ctx, StatusInternalServerError, "INTERNAL_ERROR")
			}
		}()
		next(ctx)
	}
}

// RequestIDMiddleware keeps the caller's X-Request-ID or assigns one, and
// echoes it on the response.
func RequestIDMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		rid := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderRequestID)))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		ctx.SetUserValue(RequestIDKey, rid)
		ctx.Response.Header.Set(HeaderRequestID, rid)
		next(ctx)
	}
}

func RequestLoggerMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		path := string(ctx.Path())
		if shouldSkip(path) {
			next(ctx)
			return
		}

		start := time.Now()
		next(ctx)
		latency := time.Since(start)
		status := ctx.Response.StatusCode()

		log := logger.GetLogger().Info
		switch {
		case status >= 500:
			log = logger.GetLogger().Error
		case status >= 400 || latency > slowThreshold:
			log = logger.GetLogger().Warn
		}
		log("http_request",
			"status", status,
			"method", string(ctx.Method()),
			"path", path,
			"route", Route(ctx),
			"latency", latency.String(),
			"bytes_in", len(ctx.PostBody()),
			"bytes_out", len(ctx.Response.Body()),
			"ip", ctx.RemoteIP().String(),
			"user_id", string(ctx.Request.Header.Peek("X-User-ID")),
			"request_id", RequestID(ctx),
		)
	}
}

// MetricsMiddleware reports every request to observe.
func MetricsMiddleware(observe ObserveFunc) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return func(ctx *RequestCtx) {
			start := time.Now()
			next(ctx)
			observe(Route(ctx), string(ctx.Method()), ctx.Response.StatusCode(), time.Since(start))
		}
	}
}

func shouldSkip(p string) bool {
	for _, sp := range skipPaths {
		if strings.HasPrefix(p, sp) {
			return true
		}
	}
	return false
}

func RequestID(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue(RequestIDKey).(string); ok {
		return v
	}
	return string(ctx.Request.Header.Peek(HeaderRequestID))
}

// Route is the pattern the router matched, "unmatched" when none did.
func Route(ctx *RequestCtx) string {
	if v, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok && v != "" {
		return v
	}
	return "unmatched"
}
