package xhttp

import (
	"os"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/valyala/fasthttp"
)

const (
	defaultReadBufferSize  = 1024 * 4
	defaultWriteBufferSize = 1024 * 4
)

var DefaultServerOption = ServerOption{
	IdleTimeout:           10 * time.Second,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    2 * time.Hour, // linux default
	MaxRequestBodySize:    1024 * 1024,
	ReadBufferSize:        defaultReadBufferSize, // also the max header size
	WriteBufferSize:       defaultWriteBufferSize,
	ReadTimeout:           5 * time.Second,
	WriteTimeout:          5 * time.Second,
	Concurrency:           10_000,
	MaxConnsPerIP:         1_000,
	CloseOnShutdown:       true,
	Logger:                logger.GetLogger(),
}

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

// ServerOption holds the fasthttp server knobs the services tune. Zero
// buffer sizes fall back to 4KB.
type ServerOption struct {
	// idle keep-alive connections are closed after this, too many of them
	// end in "too many open files"
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	MaxRequestBodySize    int

	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	Concurrency     int
	MaxConnsPerIP   int
	CloseOnShutdown bool
	Logger          logger.Logger
}

// WithBuffers returns a copy of o with the given buffer sizes. Non-positive
// sizes keep the current value.
func (o ServerOption) WithBuffers(read, write int) ServerOption {
	if read > 0 {
		o.ReadBufferSize = read
	}
	if write > 0 {
		o.WriteBufferSize = write
	}
	return o
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	if options.ReadBufferSize <= 0 {
		options.ReadBufferSize = defaultReadBufferSize
	}
	if options.WriteBufferSize <= 0 {
		options.WriteBufferSize = defaultWriteBufferSize
	}
	return &fasthttp.Server{
		Handler:               NotFoundHandler,
		ErrorHandler:          errorHandler,
		Concurrency:           options.Concurrency,
		ReadBufferSize:        options.ReadBufferSize,
		WriteBufferSize:       options.WriteBufferSize,
		ReadTimeout:           options.ReadTimeout,
		WriteTimeout:          options.WriteTimeout,
		IdleTimeout:           options.IdleTimeout,
		MaxConnsPerIP:         options.MaxConnsPerIP,
		MaxIdleWorkerDuration: options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:    options.TCPKeepalivePeriod,
		TCPKeepalive:          true,
		MaxRequestBodySize:    options.MaxRequestBodySize,
		NoDefaultServerHeader: true,
		NoDefaultDate:         true,
		NoDefaultContentType:  true,
		CloseOnShutdown:       options.CloseOnShutdown,
		Logger:                options.Logger,
	}
}

func errorHandler(ctx *RequestCtx, err error) {
	logger.Warn("[xhttp] malformed request", "ip", ctx.RemoteIP().String(), "error", err)
	writeProblem(ctx, StatusBadRequest, "BAD_REQUEST")
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

// CreateServer is a server with the default options and router, used for
// side listeners such as metrics.
func CreateServer() *Engine {
	s := NewServer(DefaultServerOption)
	s.Router = CreateDefaultRouter()
	return s
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler, wrapped in the
// middlewares in the order they were added: the first one runs first.
func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}
	e.Server.Handler = e.Router.Handler

	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for _, m := range middle {
		e.Server.Handler = m(e.Server.Handler)
	}
	for i, m := range e.middle {
		logger.Debug("[xhttp] middleware registered", "position", i+1, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
}

// Use adds middleware to the end of the chain.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown waits for in-flight requests and closes idle connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down", "pid", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
