package xhttp

import (
	"strconv"

	"github.com/fasthttp/router"
)

type Router = router.Router

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router that answers unknown routes and
// methods with the JSON error body the API uses everywhere else, and keeps
// the matched pattern for logs and metrics.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	writeProblem(ctx, StatusNotFound, "NOT_FOUND")
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	writeProblem(ctx, StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

// writeProblem writes {"error": <status text>, "code": code}.
func writeProblem(ctx *RequestCtx, status int, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":` + strconv.Quote(StatusText(status)) + `,"code":"` + code + `"}`)
}
