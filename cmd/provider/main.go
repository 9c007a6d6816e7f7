package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// VendorService is one catalog row, serialized the way the vendor does it:
// numbers as strings.
type VendorService struct {
	Service  int64  `json:"service"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Rate     string `json:"rate"`
	Min      string `json:"min"`
	Max      string `json:"max"`
	Refill   bool   `json:"refill"`
	Cancel   bool   `json:"cancel"`
}

// VendorStatus is the body of action=status for one order.
type VendorStatus struct {
	Charge     string `json:"charge"`
	StartCount string `json:"start_count"`
	Status     string `json:"status"`
	Remains    string `json:"remains"`
	Currency   string `json:"currency"`
}

type vendorOrder struct {
	id         int64
	service    VendorService
	link       string
	quantity   int64
	startCount int64
	charge     decimal.Decimal
	outcome    string
	delivered  int64
	createdAt  time.Time
	canceled   bool
}

// MockProvider simulates the fulfillment vendor: a catalog, a balance and
// orders that progress on their own.
type MockProvider struct {
	mu              sync.Mutex
	apiKey          string
	providerID      string
	balance         decimal.Decimal
	failRate        float64
	unavailableRate float64
	minDelay        time.Duration
	maxDelay        time.Duration
	nextID          int64
	nextRefill      int64
	orders          map[int64]*vendorOrder
	catalog         map[int64]VendorService
	rng             *rand.Rand
}

func NewMockProvider(apiKey string, balance decimal.Decimal, failRate float64, minDelay, maxDelay time.Duration) *MockProvider {
	catalog := map[int64]VendorService{}
	for _, s := range defaultCatalog() {
		catalog[s.Service] = s
	}
	return &MockProvider{
		apiKey:     apiKey,
		providerID: "MOCK_PROVIDER_" + uuid.New().String()[:8],
		balance:    balance,
		failRate:   failRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		nextID:     1000,
		nextRefill: 1,
		orders:     map[int64]*vendorOrder{},
		catalog:    catalog,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func defaultCatalog() []VendorService {
	return []VendorService{
		{Service: 1, Name: "TikTok Views [Fast]", Type: "Default", Category: "TikTok Views", Rate: "0.02", Min: "100", Max: "1000000", Refill: false, Cancel: true},
		{Service: 2, Name: "TikTok Likes", Type: "Default", Category: "TikTok Likes", Rate: "0.90", Min: "10", Max: "100000", Refill: true, Cancel: true},
		{Service: 3, Name: "TikTok Followers [Real]", Type: "Default", Category: "TikTok Followers", Rate: "3.10", Min: "50", Max: "50000", Refill: true, Cancel: false},
		{Service: 4, Name: "Instagram Likes", Type: "Default", Category: "Instagram Likes", Rate: "0.45", Min: "20", Max: "200000", Refill: true, Cancel: true},
		{Service: 5, Name: "Instagram Followers", Type: "Default", Category: "Instagram Followers", Rate: "2.40", Min: "50", Max: "100000", Refill: true, Cancel: false},
		{Service: 6, Name: "Instagram Reel Views", Type: "Default", Category: "Instagram Views", Rate: "0.05", Min: "100", Max: "5000000", Refill: false, Cancel: true},
		{Service: 7, Name: "YouTube Views", Type: "Default", Category: "YouTube Views", Rate: "1.20", Min: "500", Max: "1000000", Refill: true, Cancel: false},
		{Service: 8, Name: "Twitter Followers", Type: "Default", Category: "Twitter Followers", Rate: "4.00", Min: "100", Max: "20000", Refill: false, Cancel: false},
	}
}

func (m *MockProvider) add(serviceID, quantity int64, link string) (gin.H, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.catalog[serviceID]
	if !ok {
		return nil, errors.New("Incorrect service ID")
	}
	lo, _ := strconv.ParseInt(svc.Min, 10, 64)
	hi, _ := strconv.ParseInt(svc.Max, 10, 64)
	if quantity < lo || quantity > hi {
		return nil, fmt.Errorf("Quantity less than minimal %d or more than maximal %d", lo, hi)
	}
	if strings.TrimSpace(link) == "" {
		return nil, errors.New("Incorrect link")
	}

	charge := decimal.RequireFromString(svc.Rate).Mul(decimal.NewFromInt(quantity)).Div(decimal.NewFromInt(1000))
	if charge.GreaterThan(m.balance) {
		return nil, errors.New("Not enough funds on balance")
	}
	m.balance = m.balance.Sub(charge)

	m.nextID++
	o := &vendorOrder{
		id:         m.nextID,
		service:    svc,
		link:       link,
		quantity:   quantity,
		startCount: m.startCount(),
		charge:     charge,
		outcome:    m.outcome(),
		createdAt:  time.Now(),
	}
	o.delivered = quantity
	if o.outcome == "Partial" {
		o.delivered = quantity / 2
	}
	m.orders[o.id] = o

	log.Info().
		Int64("order", o.id).
		Int64("service", serviceID).
		Int64("quantity", quantity).
		Str("charge", charge.String()).
		Str("outcome", o.outcome).
		Msg("Order accepted")
	return gin.H{"order": o.id}, nil
}

// startCount is sometimes zero, which the vendor uses for "unknown".
func (m *MockProvider) startCount() int64 {
	if m.rng.Float64() < 0.2 {
		return 0
	}
	return m.rng.Int63n(50_000)
}

func (m *MockProvider) outcome() string {
	if m.rng.Float64() >= m.failRate {
		return "Completed"
	}
	if m.rng.Intn(2) == 0 {
		return "Partial"
	}
	return "Canceled"
}

func (m *MockProvider) status(id int64, now time.Time) (VendorStatus, bool) {
	o, ok := m.orders[id]
	if !ok {
		return VendorStatus{}, false
	}

	st := VendorStatus{
		Charge:     o.charge.StringFixed(5),
		StartCount: strconv.FormatInt(o.startCount, 10),
		Currency:   "USD",
	}
	elapsed := now.Sub(o.createdAt)
	switch {
	case o.canceled:
		st.Status = "Canceled"
		st.Remains = strconv.FormatInt(o.quantity, 10)
	case elapsed < m.minDelay:
		st.Status = "Pending"
		st.Remains = strconv.FormatInt(o.quantity, 10)
	case elapsed < m.maxDelay:
		st.Status = "In progress"
		progress := float64(elapsed-m.minDelay) / float64(m.maxDelay-m.minDelay)
		st.Remains = strconv.FormatInt(o.quantity-int64(float64(o.delivered)*progress), 10)
	default:
		st.Status = o.outcome
		st.Remains = strconv.FormatInt(o.quantity-o.delivered, 10)
		if o.outcome == "Canceled" {
			st.Remains = strconv.FormatInt(o.quantity, 10)
		}
	}
	return st, true
}

// Handler dispatches on the action query parameter the way the vendor does.
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

func param(c *gin.Context, name string) string {
	if v := c.Query(name); v != "" {
		return v
	}
	return c.PostForm(name)
}

func (h *Handler) Dispatch(c *gin.Context) {
	p := h.provider
	if param(c, "key") != p.apiKey {
		c.JSON(http.StatusOK, gin.H{"error": "Invalid API key"})
		return
	}

	p.mu.Lock()
	down := p.rng.Float64() < p.unavailableRate
	p.mu.Unlock()
	if down {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		return
	}

	switch action := param(c, "action"); action {
	case "services":
		h.services(c)
	case "add":
		h.add(c)
	case "status":
		h.status(c)
	case "refill":
		h.refill(c)
	case "cancel":
		h.cancel(c)
	case "balance":
		h.balance(c)
	default:
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect request"})
	}
}

func (h *Handler) services(c *gin.Context) {
	list := defaultCatalog()
	c.JSON(http.StatusOK, list)
}

func (h *Handler) add(c *gin.Context) {
	serviceID, err := strconv.ParseInt(param(c, "service"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect service ID"})
		return
	}
	quantity, err := strconv.ParseInt(param(c, "quantity"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect quantity"})
		return
	}

	resp, err := h.provider.add(serviceID, quantity, param(c, "link"))
	if err != nil {
		log.Warn().Int64("service", serviceID).Err(err).Msg("Order rejected")
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) status(c *gin.Context) {
	p := h.provider
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if ids := param(c, "orders"); ids != "" {
		out := gin.H{}
		for _, raw := range strings.Split(ids, ",") {
			raw = strings.TrimSpace(raw)
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				out[raw] = gin.H{"error": "Incorrect order ID"}
				continue
			}
			if st, ok := p.status(id, now); ok {
				out[raw] = st
			} else {
				out[raw] = gin.H{"error": "Incorrect order ID"}
			}
		}
		c.JSON(http.StatusOK, out)
		return
	}

	id, err := strconv.ParseInt(param(c, "order"), 10, 64)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect order ID"})
		return
	}
	st, ok := p.status(id, now)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect order ID"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) refill(c *gin.Context) {
	p := h.provider
	id, _ := strconv.ParseInt(param(c, "order"), 10, 64)

	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect order ID"})
		return
	}
	if !o.service.Refill {
		c.JSON(http.StatusOK, gin.H{"error": "Refill is disabled for this service"})
		return
	}
	p.nextRefill++
	c.JSON(http.StatusOK, gin.H{"refill": strconv.FormatInt(p.nextRefill, 10)})
}

func (h *Handler) cancel(c *gin.Context) {
	p := h.provider
	id, _ := strconv.ParseInt(param(c, "order"), 10, 64)

	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"error": "Incorrect order ID"})
		return
	}
	if !o.service.Cancel || time.Since(o.createdAt) >= p.maxDelay {
		c.JSON(http.StatusOK, gin.H{"ok": "false"})
		return
	}
	o.canceled = true
	p.balance = p.balance.Add(o.charge)
	c.JSON(http.StatusOK, gin.H{"ok": "true"})
}

func (h *Handler) balance(c *gin.Context) {
	p := h.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"balance": p.balance.StringFixed(5), "currency": "USD"})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	p := h.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"provider_id": p.providerID,
		"timestamp":   time.Now(),
		"orders":      len(p.orders),
	})
}

// UpdateConfig allows changing failure rates at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		FailRate        *float64 `json:"fail_rate"`
		UnavailableRate *float64 `json:"unavailable_rate"`
		Balance         *string  `json:"balance"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	p := h.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if config.FailRate != nil && *config.FailRate >= 0 && *config.FailRate <= 1.0 {
		p.failRate = *config.FailRate
		log.Info().Float64("rate", *config.FailRate).Msg("Updated fail rate")
	}
	if config.UnavailableRate != nil && *config.UnavailableRate >= 0 && *config.UnavailableRate <= 1.0 {
		p.unavailableRate = *config.UnavailableRate
		log.Info().Float64("rate", *config.UnavailableRate).Msg("Updated unavailable rate")
	}
	if config.Balance != nil {
		if b, err := decimal.NewFromString(*config.Balance); err == nil {
			p.balance = b
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"fail_rate":        p.failRate,
		"unavailable_rate": p.unavailableRate,
		"balance":          p.balance.StringFixed(5),
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("action", c.Query("action")).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.Any("/api/v2", handler.Dispatch)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	apiKey := getEnv("PROVIDER_API_KEY", "test-key")
	balance := decimal.RequireFromString(getEnv("BALANCE", "1000"))
	failRate := getEnvFloat("FAIL_RATE", 0.05)
	minDelay := getEnvDuration("MIN_DELAY", 30*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 5*time.Minute)
	if maxDelay <= minDelay {
		maxDelay = minDelay + time.Second
	}

	log.Info().
		Str("port", port).
		Float64("fail_rate", failRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock provider")

	provider := NewMockProvider(apiKey, balance, failRate, minDelay, maxDelay)
	provider.unavailableRate = getEnvFloat("UNAVAILABLE_RATE", 0)
	router := SetupRouter(NewHandler(provider))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
