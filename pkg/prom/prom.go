package prom

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/multierr"
)

const (
	SystemHTTP       = "http"
	SystemGateway    = "gateway"
	SystemOrders     = "orders"
	SystemReconciler = "reconciler"
)

const (
	MetricHTTPRequestDuration    = "request_duration_seconds"
	MetricGatewayRequestDuration = "request_duration_seconds"
	MetricOrderAdmissions        = "admissions_total"
	MetricReconcileRunDuration   = "run_duration_seconds"
	MetricReconcileOrdersUpdated = "orders_updated_total"
	MetricReconcileOrdersFailed  = "orders_failed_total"
	MetricNotificationsDropped   = "notifications_dropped_total"
)

type metricKind int

const (
	counterVec metricKind = iota
	histogramVec
)

type descriptor struct {
	subsystem string
	name      string
	help      string
	kind      metricKind
	labels    []string
	buckets   []float64
}

var upstreamBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}

var descriptors = []descriptor{
	{SystemHTTP, MetricHTTPRequestDuration, "API request latency by matched route.", histogramVec, []string{"route", "method", "status"}, prometheus.DefBuckets},
	{SystemGateway, MetricGatewayRequestDuration, "Provider call latency, retries included.", histogramVec, []string{"action", "outcome"}, upstreamBuckets},
	{SystemOrders, MetricOrderAdmissions, "Order admissions by outcome.", counterVec, []string{"outcome"}, nil},
	{SystemOrders, MetricNotificationsDropped, "Notifications not published.", counterVec, []string{"kind"}, nil},
	{SystemReconciler, MetricReconcileRunDuration, "Reconciliation pass duration.", histogramVec, []string{"pass"}, upstreamBuckets},
	{SystemReconciler, MetricReconcileOrdersUpdated, "Orders changed by reconciliation.", counterVec, []string{"pass"}, nil},
	{SystemReconciler, MetricReconcileOrdersFailed, "Orders reconciliation could not settle.", counterVec, []string{"pass"}, nil},
}

var (
	mu         sync.RWMutex
	enabled    bool
	counters   = map[string]*prometheus.CounterVec{}
	histograms = map[string]*prometheus.HistogramVec{}
)

// Create registers every metric on the default registry. Until it is called
// the record functions are no-ops.
func Create(host string, env string, namespace string) error {
	return CreateWith(prometheus.DefaultRegisterer, host, env, namespace)
}

// CreateWith registers on reg. Metrics already registered there are reused.
func CreateWith(reg prometheus.Registerer, host string, env string, namespace string) error {
	constLabels := prometheus.Labels{"env": env, "instance": host}

	mu.Lock()
	defer mu.Unlock()

	var errs error
	for _, d := range descriptors {
		key := d.subsystem + d.name
		switch d.kind {
		case counterVec:
			c := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   d.subsystem,
				Name:        d.name,
				Help:        d.help,
				ConstLabels: constLabels,
			}, d.labels)
			if err := register(reg, c, &c); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s_%s: %w", d.subsystem, d.name, err))
				continue
			}
			counters[key] = c
		case histogramVec:
			h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   d.subsystem,
				Name:        d.name,
				Help:        d.help,
				ConstLabels: constLabels,
				Buckets:     d.buckets,
			}, d.labels)
			if err := register(reg, h, &h); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s_%s: %w", d.subsystem, d.name, err))
				continue
			}
			histograms[key] = h
		}
	}
	enabled = true
	return errs
}

// register adds c to reg, or points *existing at the collector reg already
// holds under the same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, existing *T) error {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if prev, ok := are.ExistingCollector.(T); ok {
			*existing = prev
			return nil
		}
	}
	return err
}

func ListenAndServer(port string, url string) {
	s := xhttp.CreateServer()
	s.GET(url, fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	logger.Info("[metrics-server] listening...", "addr", port, "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func addCounter(subsystem, name string, v float64, labelValues ...string) {
	mu.RLock()
	c, ok := counters[subsystem+name]
	on := enabled
	mu.RUnlock()
	if !on {
		return
	}
	if !ok {
		logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
		return
	}
	c.WithLabelValues(labelValues...).Add(v)
}

func observe(subsystem, name string, v float64, labelValues ...string) {
	mu.RLock()
	h, ok := histograms[subsystem+name]
	on := enabled
	mu.RUnlock()
	if !on {
		return
	}
	if !ok {
		logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
		return
	}
	h.WithLabelValues(labelValues...).Observe(v)
}

// ObserveHTTPRequest matches xhttp.ObserveFunc.
func ObserveHTTPRequest(route, method string, status int, latency time.Duration) {
	observe(SystemHTTP, MetricHTTPRequestDuration, latency.Seconds(), route, method, strconv.Itoa(status))
}

func AddGatewayRequestDuration(seconds float64, action, outcome string) {
	observe(SystemGateway, MetricGatewayRequestDuration, seconds, action, outcome)
}

func IncOrderAdmission(outcome string) {
	addCounter(SystemOrders, MetricOrderAdmissions, 1, outcome)
}

func IncNotificationDropped(kind string) {
	addCounter(SystemOrders, MetricNotificationsDropped, 1, kind)
}

func AddReconcileRun(pass string, seconds float64, updated, failed int) {
	observe(SystemReconciler, MetricReconcileRunDuration, seconds, pass)
	addCounter(SystemReconciler, MetricReconcileOrdersUpdated, float64(updated), pass)
	addCounter(SystemReconciler, MetricReconcileOrdersFailed, float64(failed), pass)
}
