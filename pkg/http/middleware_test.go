package xhttp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newCtx(method, uri string) *RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return ctx
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(func(ctx *RequestCtx) {
		seen = RequestID(ctx)
	})

	t.Run("keeps the caller id", func(t *testing.T) {
		ctx := newCtx("GET", "/")
		ctx.Request.Header.Set(HeaderRequestID, "abc-123")
		h(ctx)
		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", string(ctx.Response.Header.Peek(HeaderRequestID)))
	})

	t.Run("assigns one", func(t *testing.T) {
		ctx := newCtx("GET", "/")
		h(ctx)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, string(ctx.Response.Header.Peek(HeaderRequestID)))
	})
}

func TestEngine_MiddlewareOrderAndRoute(t *testing.T) {
	e := NewServer(DefaultServerOption)
	e.Router = CreateDefaultRouter()

	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next RequestHandler) RequestHandler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	var route string
	var status int
	e.Use(mark("first"))
	e.Use(MetricsMiddleware(func(r, _ string, s int, _ time.Duration) {
		route, status = r, s
	}))
	e.Use(mark("second"))
	e.GET("/orders/{id}", func(ctx *RequestCtx) {
		order = append(order, "handler")
		ctx.SetStatusCode(StatusOK)
	})
	e.DoRouting()

	e.Server.Handler(newCtx("GET", "/orders/42"))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
	assert.Equal(t, "/orders/{id}", route)
	assert.Equal(t, StatusOK, status)
}

func TestDefaultRouter_JSONErrors(t *testing.T) {
	r := CreateDefaultRouter()
	r.GET("/orders", func(ctx *RequestCtx) {})

	ctx := newCtx("GET", "/nope")
	r.Handler(ctx)
	assert.Equal(t, StatusNotFound, ctx.Response.StatusCode())
	var body map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "unmatched", Route(ctx))

	ctx = newCtx("DELETE", "/orders")
	r.Handler(ctx)
	assert.Equal(t, StatusMethodNotAllowed, ctx.Response.StatusCode())
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body["code"])
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(ctx *RequestCtx) {
		ctx.SetBodyString("partial")
		panic("boom")
	})

	ctx := newCtx("GET", "/")
	assert.NotPanics(t, func() { h(ctx) })
	assert.Equal(t, StatusInternalServerError, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"Internal Server Error","code":"INTERNAL_ERROR"}`, string(ctx.Response.Body()))
}

func TestServerOption_WithBuffers(t *testing.T) {
	o := DefaultServerOption.WithBuffers(16*1024, 0)
	assert.Equal(t, 16*1024, o.ReadBufferSize)
	assert.Equal(t, defaultWriteBufferSize, o.WriteBufferSize)
	assert.Equal(t, defaultReadBufferSize, DefaultServerOption.ReadBufferSize)
}
