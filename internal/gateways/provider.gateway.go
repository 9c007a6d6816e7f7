package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
	"github.com/valyala/fasthttp"
)

var (
	ErrCircuitOpen     = errors.New("provider circuit breaker is open")
	ErrInvalidResponse = errors.New("provider returned an unreadable response")
)

type ErrorKind int

const (
	// KindUnavailable covers transport errors, timeouts, 5xx and an open
	// circuit. These were retried before being returned.
	KindUnavailable ErrorKind = iota
	// KindRejected is a 4xx or an error payload from the vendor. Never retried.
	KindRejected
)

func (k ErrorKind) String() string {
	if k == KindRejected {
		return "rejected"
	}
	return "unavailable"
}

type UpstreamError struct {
	Kind       ErrorKind
	Action     string
	Message    string
	StatusCode int
	cause      error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s (status %d): %s", e.Action, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s %s: %s", e.Action, e.Kind, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.cause
}

func IsUnavailable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == KindUnavailable
}

func IsRejected(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == KindRejected
}

// CallRecord describes one gateway call after all attempts. The api key is
// already masked in Request.
type CallRecord struct {
	Endpoint   string
	Method     string
	Action     string
	Request    string
	Response   string
	StatusCode int
	DurationMs int64
	Attempts   int
	Success    bool
	Error      string
	At         time.Time
}

// CallObserver receives every call. Implementations must not block.
type CallObserver interface {
	ObserveCall(rec CallRecord)
}

type CallObserverFunc func(rec CallRecord)

func (f CallObserverFunc) ObserveCall(rec CallRecord) { f(rec) }

type Config struct {
	BaseURL                 string
	APIKey                  string
	Timeout                 time.Duration
	MaxAttempts             int
	BaseDelay               time.Duration
	MaxConns                int
	ReadBufferSize          int
	WriteBufferSize         int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	Observer                CallObserver
}

const maxRecordedBody = 4096

type param struct {
	key   string
	value string
}

type rawResponse struct {
	body       []byte
	statusCode int
	attempts   int
}

// Client talks to the upstream fulfillment vendor. Every call is a POST to the
// base URL with the action, the api key and the call parameters in the query
// string.
type Client struct {
	config           *Config
	http             *fasthttp.Client
	metrics          *ProviderMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("provider base url is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("provider api key is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 10
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
		metrics: NewProviderMetrics(),
	}
	c.state.Store(int32(StateHealthy))

	logger.Info("Provider client initialized", "url", config.BaseURL, "timeout", config.Timeout, "max_attempts", config.MaxAttempts)
	return c, nil
}

// Backoff is the wait after the given failed attempt: base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return base * time.Duration(1<<(attempt-1))
}

func (c *Client) ListServices(ctx context.Context) (*Response[[]Service], error) {
	return call(ctx, c, "services", nil, func(body []byte) ([]Service, string, error) {
		if msg, ok := bareError(body); ok {
			return nil, msg, nil
		}
		var services []Service
		err := json.Unmarshal(body, &services)
		return services, "", err
	})
}

// SubmitOrder places an order. When the vendor returns an order id together
// with an error, the response carries both and the error is Rejected; the
// caller decides whether that is a success.
func (c *Client) SubmitOrder(ctx context.Context, serviceID int64, link string, quantity int64) (*Response[AddResult], error) {
	params := []param{
		{"service", strconv.FormatInt(serviceID, 10)},
		{"link", link},
		{"quantity", strconv.FormatInt(quantity, 10)},
	}
	return call(ctx, c, "add", params, func(body []byte) (AddResult, string, error) {
		var res AddResult
		err := json.Unmarshal(body, &res)
		return res, res.Error, err
	})
}

func (c *Client) GetStatus(ctx context.Context, orderID string) (*Response[OrderStatus], error) {
	return call(ctx, c, "status", []param{{"order", orderID}}, func(body []byte) (OrderStatus, string, error) {
		var res OrderStatus
		err := json.Unmarshal(body, &res)
		return res, res.Error, err
	})
}

// GetStatusBatch asks for several orders at once. Ids the vendor does not know
// come back with OrderStatus.Error set; that does not fail the call.
func (c *Client) GetStatusBatch(ctx context.Context, orderIDs []string) (*Response[map[string]OrderStatus], error) {
	return call(ctx, c, "status", []param{{"orders", strings.Join(orderIDs, ",")}}, func(body []byte) (map[string]OrderStatus, string, error) {
		if msg, ok := bareError(body); ok {
			return nil, msg, nil
		}
		res := make(map[string]OrderStatus, len(orderIDs))
		err := json.Unmarshal(body, &res)
		return res, "", err
	})
}

func (c *Client) Refill(ctx context.Context, orderID string) (*Response[RefillResult], error) {
	return call(ctx, c, "refill", []param{{"order", orderID}}, func(body []byte) (RefillResult, string, error) {
		var res RefillResult
		err := json.Unmarshal(body, &res)
		if err == nil && res.Error == "" && res.RefillID == "" {
			return res, "refill was not accepted", nil
		}
		return res, res.Error, err
	})
}

func (c *Client) Cancel(ctx context.Context, orderID string) (*Response[CancelResult], error) {
	return call(ctx, c, "cancel", []param{{"order", orderID}}, func(body []byte) (CancelResult, string, error) {
		var res CancelResult
		err := json.Unmarshal(body, &res)
		if err == nil && res.Error == "" && !bool(res.OK) {
			return res, "cancel was not accepted", nil
		}
		return res, res.Error, err
	})
}

func (c *Client) GetBalance(ctx context.Context) (*Response[Balance], error) {
	return call(ctx, c, "balance", nil, func(body []byte) (Balance, string, error) {
		var res Balance
		err := json.Unmarshal(body, &res)
		return res, res.Error, err
	})
}

// call runs one action and decodes its body. decode returns the vendor error
// string, if any, next to the data.
func call[T any](ctx context.Context, c *Client, action string, params []param, decode func(body []byte) (T, string, error)) (*Response[T], error) {
	start := time.Now()
	res := &Response[T]{}

	raw, err := c.do(ctx, action, params)
	res.StatusCode = raw.statusCode
	res.Attempts = raw.attempts

	if err == nil {
		data, vendorMsg, decodeErr := decode(raw.body)
		switch {
		case decodeErr != nil:
			err = &UpstreamError{Kind: KindRejected, Action: action, Message: ErrInvalidResponse.Error(), StatusCode: raw.statusCode, cause: fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr)}
		case vendorMsg != "":
			res.Data = data
			err = &UpstreamError{Kind: KindRejected, Action: action, Message: vendorMsg, StatusCode: raw.statusCode}
		default:
			res.Data = data
			res.Success = true
		}
	}

	var ue *UpstreamError
	if err != nil {
		if errors.As(err, &ue) {
			res.Error = ue.Message
		} else {
			res.Error = err.Error()
		}
	}
	res.DurationMs = time.Since(start).Milliseconds()

	outcome := "success"
	if ue != nil {
		outcome = ue.Kind.String()
	}
	prom.AddGatewayRequestDuration(time.Since(start).Seconds(), action, outcome)
	c.observe(action, params, raw, res.Success, res.Error, res.DurationMs)

	return res, err
}

// do sends the request, retrying transient failures. A nil error means a
// 2xx body is in the response; any other status below 500 is a rejection.
func (c *Client) do(ctx context.Context, action string, params []param) (*rawResponse, error) {
	out := &rawResponse{}
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(c.config.BaseDelay, attempt-1)
			select {
			case <-ctx.Done():
				return out, &UpstreamError{Kind: KindUnavailable, Action: action, Message: ctx.Err().Error(), cause: ctx.Err()}
			case <-time.After(delay):
			}
		}

		if !c.allowRequest() {
			return out, &UpstreamError{Kind: KindUnavailable, Action: action, Message: ErrCircuitOpen.Error(), cause: ErrCircuitOpen}
		}

		out.attempts = attempt
		startTime := time.Now()
		body, status, err := c.send(ctx, action, params)
		latency := time.Since(startTime).Milliseconds()
		out.statusCode = status
		out.body = body

		switch {
		case err == nil && status >= 200 && status < 300:
			c.metrics.RecordSuccess(action, latency)
			c.markHealthy()
			return out, nil

		case err == nil && status < 500:
			c.metrics.RecordRejected(action, latency)
			msg, ok := bareError(body)
			if !ok {
				msg = fmt.Sprintf("unexpected status code %d", status)
			}
			return out, &UpstreamError{Kind: KindRejected, Action: action, Message: msg, StatusCode: status}
		}

		c.metrics.RecordFailure(action)
		c.checkCircuitBreaker()

		if err != nil {
			lastErr = &UpstreamError{Kind: KindUnavailable, Action: action, Message: err.Error(), cause: err}
		} else {
			lastErr = &UpstreamError{Kind: KindUnavailable, Action: action, Message: fmt.Sprintf("unexpected status code %d", status), StatusCode: status}
		}
		logger.Warn("Provider request failed", "action", action, "attempt", attempt, "max_attempts", c.config.MaxAttempts, "error", lastErr)

		if ctx.Err() != nil {
			break
		}
	}

	return out, lastErr
}

func (c *Client) send(ctx context.Context, action string, params []param) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	args := req.URI().QueryArgs()
	args.Set("key", c.config.APIKey)
	args.Set("action", action)
	for _, p := range params {
		args.Set(p.key, p.value)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, resp.StatusCode(), nil
}

func (c *Client) observe(action string, params []param, raw *rawResponse, success bool, errMsg string, durationMs int64) {
	if c.config.Observer == nil {
		return
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("key", "***")
	args.Set("action", action)
	for _, p := range params {
		args.Set(p.key, p.value)
	}

	body := raw.body
	if len(body) > maxRecordedBody {
		body = body[:maxRecordedBody]
	}

	c.config.Observer.ObserveCall(CallRecord{
		Endpoint:   c.config.BaseURL,
		Method:     fasthttp.MethodPost,
		Action:     action,
		Request:    args.String(),
		Response:   string(body),
		StatusCode: raw.statusCode,
		DurationMs: durationMs,
		Attempts:   raw.attempts,
		Success:    success,
		Error:      errMsg,
		At:         time.Now(),
	})
}

func (c *Client) allowRequest() bool {
	if ProviderState(c.state.Load()) != StateCircuitOpen {
		return true
	}
	if time.Now().UnixNano() < c.circuitOpenUntil.Load() {
		return false
	}
	// half open: let traffic probe the vendor again
	c.state.CompareAndSwap(int32(StateCircuitOpen), int32(StateDegraded))
	logger.Info("Provider circuit breaker half open", "url", c.config.BaseURL)
	return true
}

func (c *Client) markHealthy() {
	if old := ProviderState(c.state.Swap(int32(StateHealthy))); old != StateHealthy {
		logger.Info("Provider state changed", "old_state", stateString(old), "new_state", stateString(StateHealthy))
	}
}

func (c *Client) checkCircuitBreaker() {
	consecutiveFails := c.metrics.ConsecutiveFails.Load()
	if consecutiveFails >= int32(c.config.CircuitBreakerThreshold) {
		c.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).UnixNano())
		if ProviderState(c.state.Swap(int32(StateCircuitOpen))) != StateCircuitOpen {
			logger.Warn("Circuit breaker opened", "url", c.config.BaseURL, "consecutive_fails", consecutiveFails, "timeout", c.config.CircuitBreakerTimeout)
		}
		return
	}
	c.state.CompareAndSwap(int32(StateHealthy), int32(StateDegraded))
}

func (c *Client) Stats() ProviderStats {
	lastMs, actions := c.metrics.snapshot()
	return ProviderStats{
		URL:              c.config.BaseURL,
		State:            stateString(ProviderState(c.state.Load())),
		TotalRequests:    c.metrics.TotalRequests.Load(),
		SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
		RejectedReqs:     c.metrics.RejectedReqs.Load(),
		FailedReqs:       c.metrics.FailedReqs.Load(),
		SuccessRate:      c.metrics.SuccessRate(),
		AvgLatencyMs:     c.metrics.AvgLatencyMs(),
		P95LatencyMs:     c.metrics.P95LatencyMs(),
		LastLatencyMs:    lastMs,
		ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
		LastSuccessAt:    unixNanoPtr(c.metrics.lastSuccess.Load()),
		LastFailureAt:    unixNanoPtr(c.metrics.lastFailure.Load()),
		Actions:          actions,
	}
}

// bareError reports whether body is exactly {"error": "..."}.
func bareError(body []byte) (string, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) != 1 {
		return "", false
	}
	raw, ok := fields["error"]
	if !ok {
		return "", false
	}
	var v vendorError
	if err := json.Unmarshal([]byte(`{"error":`+string(raw)+`}`), &v); err != nil || v.Error == "" {
		return "", false
	}
	return v.Error, true
}
