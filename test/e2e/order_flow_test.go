package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/engagement-reseller/internal/catalog"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/handlers"
	"github.com/nimasrn/engagement-reseller/internal/ledger"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/notify"
	"github.com/nimasrn/engagement-reseller/internal/pricing"
	"github.com/nimasrn/engagement-reseller/internal/queue"
	"github.com/nimasrn/engagement-reseller/internal/reconciler"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/internal/services"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
	"github.com/nimasrn/engagement-reseller/test/fixtures"
	"github.com/nimasrn/engagement-reseller/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type TestEnvironment struct {
	DB             *pg.DB
	Redis          *miniredis.Miniredis
	RedisAdapter   redis.RedisAdapter
	Queue          *queue.Queue
	Vendor         *helpers.Vendor
	OrderRepo      *repository.OrderRepository
	TxnRepo        *repository.TransactionRepository
	Publisher      *notify.Publisher
	Reconciler     *reconciler.Reconciler
	IntegrationLog *services.IntegrationLog
	OrderService   *services.OrderService
	OrderHandler   *handlers.OrderHandler

	mu     sync.Mutex
	events []notify.Event
}

func setupE2EEnvironment(t *testing.T, mutate ...func(*gateway.Config)) *TestEnvironment {
	db := helpers.SetupTestDB(t)
	mr, redisAdapter := helpers.SetupTestRedis(t)
	vendor := helpers.NewVendor(t, fixtures.VendorServices)

	env := &TestEnvironment{
		DB:           db,
		Redis:        mr,
		RedisAdapter: redisAdapter,
		Vendor:       vendor,
		OrderRepo:    repository.NewOrderRepository(db),
		TxnRepo:      repository.NewTransactionRepository(db),
	}
	users := repository.NewUserRepository(db)

	env.IntegrationLog = services.NewIntegrationLog(repository.NewIntegrationLogRepository(db), 100, 1)
	env.IntegrationLog.Start()

	gatewayConfig := &gateway.Config{
		BaseURL:                 vendor.Server.URL,
		APIKey:                  "e2e-key",
		Timeout:                 2 * time.Second,
		MaxAttempts:             2,
		BaseDelay:               time.Millisecond,
		CircuitBreakerThreshold: 100,
		Observer:                env.IntegrationLog,
	}
	for _, m := range mutate {
		m(gatewayConfig)
	}
	client, err := gateway.NewClient(gatewayConfig)
	require.NoError(t, err)

	env.Queue, err = queue.NewQueue(redisAdapter, queue.QueueConfig{
		Name:              "test:notifications",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)
	env.Publisher = notify.NewPublisher(env.Queue, 100, 1)
	env.Publisher.Start()

	consumer := notify.NewConsumer(env.Queue, notify.SinkFunc(func(_ context.Context, e notify.Event) error {
		env.mu.Lock()
		env.events = append(env.events, e)
		env.mu.Unlock()
		return nil
	}))
	require.NoError(t, consumer.Start())

	resolver, err := pricing.NewResolver(repository.NewPricingRuleRepository(db), users, pricing.Options{})
	require.NoError(t, err)

	env.Reconciler = reconciler.New(env.OrderRepo, client, env.Publisher, reconciler.Config{})

	env.OrderService = services.NewOrderService(services.OrderServiceDeps{
		Users:        users,
		Orders:       env.OrderRepo,
		Transactions: env.TxnRepo,
		Catalog:      catalog.New(client, catalog.Options{Snapshots: redisAdapter}),
		Pricing:      resolver,
		Ledger:       ledger.New(users, env.TxnRepo, db),
		Gateway:      client,
		Checker:      env.Reconciler,
		Notifier:     env.Publisher,
	}, services.OrderServiceConfig{LowCreditThreshold: 100})
	env.OrderHandler = handlers.NewOrderHandler(env.OrderService)

	t.Cleanup(env.Cleanup)
	return env
}

func (env *TestEnvironment) Cleanup() {
	env.Publisher.Close()
	_ = env.Queue.Stop(5 * time.Second)
	env.IntegrationLog.Close()
	env.Redis.Close()
}

func (env *TestEnvironment) Events(kind notify.Kind) []notify.Event {
	env.mu.Lock()
	defer env.mu.Unlock()
	var out []notify.Event
	for _, e := range env.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (env *TestEnvironment) countOrders(t *testing.T, userID int64) int64 {
	_, total, err := env.OrderRepo.List(context.Background(), fixtures.OrderFilterByUser(userID))
	require.NoError(t, err)
	return total
}

func (env *TestEnvironment) countTransactions(t *testing.T, userID int64) int64 {
	_, total, err := env.TxnRepo.List(context.Background(), repository.TransactionFilter{UserID: userID})
	require.NoError(t, err)
	return total
}

// request builds a RequestCtx bound to a server, the way the router hands
// it to a handler.
func request(method, uri string, userID int64, body any) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	req.Header.Set(handlers.UserHeader, strconv.FormatInt(userID, 10))
	if body != nil {
		raw, _ := json.Marshal(body)
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	UpstreamError string `json:"upstream_error"`
	Retryable     bool   `json:"retryable"`
}

func decode[T any](t *testing.T, ctx *fasthttp.RequestCtx) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), string(ctx.Response.Body()))
	return out
}

func TestE2E_QuantityBelowCatalogMinimum(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "a@example.com", 1000)

	ctx := request("POST", "/api/v1/orders", user.ID, fixtures.TikTokViewsRequest(50))
	env.OrderHandler.CreateOrder(ctx)

	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, ctx).Code)
	assert.Equal(t, int64(1000), helpers.GetBalance(t, env.DB, user.ID))
	assert.Zero(t, env.countTransactions(t, user.ID))
	assert.Zero(t, env.Vendor.Calls("add"))
}

func TestE2E_OrderAdmitted(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "b@example.com", 1000)

	ctx := request("POST", "/api/v1/orders", user.ID, fixtures.TikTokViewsRequest(1000))
	env.OrderHandler.CreateOrder(ctx)
	require.Equal(t, http.StatusCreated, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	result := decode[model.OrderResult](t, ctx)
	require.NotNil(t, result.Order)
	assert.Equal(t, model.OrderStatusPending, result.Order.Status)
	require.NotNil(t, result.Order.APIOrderID)
	assert.Equal(t, "123", *result.Order.APIOrderID)
	assert.Equal(t, "123", result.UpstreamOrderID)
	assert.Equal(t, "tiktok", result.Order.Platform)
	assert.Equal(t, "views", result.Order.ServiceType)
	// 1000 views at 0.02 credits
	assert.Equal(t, int64(20), result.CreditsDeducted)
	assert.Equal(t, int64(980), result.BalanceAfter)

	assert.Equal(t, int64(980), helpers.GetBalance(t, env.DB, user.ID))
	txns, total, err := env.TxnRepo.List(context.Background(), repository.TransactionFilter{UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, model.TransactionDebit, txns[0].Type)
	assert.Equal(t, int64(20), txns[0].Amount)
	require.NotNil(t, txns[0].OrderID)
	assert.Equal(t, result.Order.ID, *txns[0].OrderID)

	stored, err := env.OrderRepo.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, user.CompanyID, stored.CompanyID)
	assert.Equal(t, fixtures.LinkTikTok, stored.Link)
}

func TestE2E_InsufficientCredit(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "c@example.com", 10)

	// 2500 views cost 50 credits
	ctx := request("POST", "/api/v1/orders", user.ID, fixtures.TikTokViewsRequest(2500))
	env.OrderHandler.CreateOrder(ctx)

	assert.Equal(t, http.StatusPaymentRequired, ctx.Response.StatusCode())
	assert.Equal(t, "INSUFFICIENT_CREDIT", decode[errorBody](t, ctx).Code)
	assert.Equal(t, int64(10), helpers.GetBalance(t, env.DB, user.ID))
	assert.Zero(t, env.countOrders(t, user.ID))
	assert.Zero(t, env.Vendor.Calls("add"))
}

func TestE2E_UpstreamTimeoutReversesDebit(t *testing.T) {
	env := setupE2EEnvironment(t, func(c *gateway.Config) {
		c.Timeout = 100 * time.Millisecond
	})
	env.Vendor.OnAdd(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(400 * time.Millisecond):
		case <-r.Context().Done():
		}
	})
	user := helpers.CreateTestUser(t, env.DB, "d@example.com", 1000)

	ctx := request("POST", "/api/v1/orders", user.ID, fixtures.TikTokViewsRequest(1000))
	env.OrderHandler.CreateOrder(ctx)

	assert.Equal(t, http.StatusServiceUnavailable, ctx.Response.StatusCode())
	body := decode[errorBody](t, ctx)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", body.Code)
	assert.True(t, body.Retryable)

	assert.Equal(t, int64(1000), helpers.GetBalance(t, env.DB, user.ID))
	assert.Zero(t, env.countOrders(t, user.ID))
	assert.Zero(t, env.countTransactions(t, user.ID))
	assert.GreaterOrEqual(t, env.Vendor.Calls("add"), 1)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(env.Events(notify.KindOrderFailed)) == 1
	}, "order failure was not notified")
	event := env.Events(notify.KindOrderFailed)[0]
	assert.Equal(t, user.ID, event.UserID)
	assert.Nil(t, event.OrderID)
}

func TestE2E_UpstreamRejection(t *testing.T) {
	env := setupE2EEnvironment(t)
	env.Vendor.OnAdd(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Not enough funds on balance"}`))
	})
	user := helpers.CreateTestUser(t, env.DB, "r@example.com", 1000)

	ctx := request("POST", "/api/v1/orders", user.ID, fixtures.TikTokViewsRequest(1000))
	env.OrderHandler.CreateOrder(ctx)

	assert.Equal(t, http.StatusBadGateway, ctx.Response.StatusCode())
	body := decode[errorBody](t, ctx)
	assert.Equal(t, "UPSTREAM_REJECTED", body.Code)
	assert.Equal(t, "Not enough funds on balance", body.UpstreamError)
	assert.Equal(t, int64(1000), helpers.GetBalance(t, env.DB, user.ID))
	assert.Equal(t, 1, env.Vendor.Calls("add"))
}

func TestE2E_ReconciliationCompletesOrder(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "e@example.com", 1000)

	result, err := env.OrderService.CreateOrder(context.Background(), user.ID, fixtures.TikTokViewsRequest(100))
	require.NoError(t, err)
	apiID := result.UpstreamOrderID

	// still running: nothing settles
	env.Vendor.SetStatus(apiID, fixtures.StatusBody("In progress", 0, 40))
	report := env.Reconciler.RunBatch(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Checked)

	order, err := env.OrderRepo.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusInProgress, order.Status)
	require.NotNil(t, order.Remains)
	assert.Equal(t, int64(40), *order.Remains)

	// no start count reported, completion counts the whole quantity
	env.Vendor.SetStatus(apiID, fixtures.StatusBody("Completed", 0, 0))
	report = env.Reconciler.RunBatch(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Updated)

	order, err = env.OrderRepo.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, order.Status)
	assert.Nil(t, order.StartCount)
	require.NotNil(t, order.CurrentCount)
	assert.Equal(t, int64(100), *order.CurrentCount)
	assert.NotNil(t, order.CompletedAt)

	// settled orders are no longer polled
	before := env.Vendor.Calls("status")
	report = env.Reconciler.RunBatch(context.Background())
	assert.Zero(t, report.Checked)
	assert.Equal(t, before, env.Vendor.Calls("status"))
}

func TestE2E_CheckOrderOnDemand(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "f@example.com", 1000)
	other := helpers.CreateTestUser(t, env.DB, "g@example.com", 1000)

	result, err := env.OrderService.CreateOrder(context.Background(), user.ID, fixtures.TikTokViewsRequest(1000))
	require.NoError(t, err)
	env.Vendor.SetStatus(result.UpstreamOrderID, fixtures.StatusBody("Canceled", 5000, 1000))

	path := fmt.Sprintf("/api/v1/orders/%d/check", result.Order.ID)

	ctx := request("POST", path, other.ID, nil)
	ctx.SetUserValue("id", strconv.FormatInt(result.Order.ID, 10))
	env.OrderHandler.CheckOrder(ctx)
	assert.Equal(t, http.StatusNotFound, ctx.Response.StatusCode())

	ctx = request("POST", path, user.ID, nil)
	ctx.SetUserValue("id", strconv.FormatInt(result.Order.ID, 10))
	env.OrderHandler.CheckOrder(ctx)
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	order := decode[model.Order](t, ctx)
	assert.Equal(t, model.OrderStatusCanceled, order.Status)
	require.NotNil(t, order.StartCount)
	assert.Equal(t, int64(5000), *order.StartCount)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(env.Events(notify.KindOrderFailed)) == 1
	}, "cancellation was not notified")
	event := env.Events(notify.KindOrderFailed)[0]
	require.NotNil(t, event.OrderID)
	assert.Equal(t, result.Order.ID, *event.OrderID)
	assert.Equal(t, result.UpstreamOrderID, event.APIOrderID)
}

func TestE2E_LowCreditNotification(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "h@example.com", 110)

	// 1000 views cost 20 credits and leave 90, under the threshold of 100
	_, err := env.OrderService.CreateOrder(context.Background(), user.ID, fixtures.TikTokViewsRequest(1000))
	require.NoError(t, err)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(env.Events(notify.KindLowCredit)) == 1
	}, "low credit was not notified")
	event := env.Events(notify.KindLowCredit)[0]
	assert.Equal(t, user.ID, event.UserID)
	assert.Equal(t, int64(90), event.Balance)
	assert.Equal(t, int64(100), event.Threshold)
}

func TestE2E_ListOrders(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "i@example.com", 10_000)
	other := helpers.CreateTestUser(t, env.DB, "j@example.com", 10_000)

	for i := 0; i < 3; i++ {
		_, err := env.OrderService.CreateOrder(context.Background(), user.ID, fixtures.TikTokViewsRequest(1000))
		require.NoError(t, err)
	}
	_, err := env.OrderService.CreateOrder(context.Background(), other.ID, fixtures.TikTokViewsRequest(1000))
	require.NoError(t, err)

	orders, total, err := env.OrderService.ListOrders(context.Background(), fixtures.OrderFilterByUser(user.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, orders, 3)

	_, total, err = env.OrderService.ListOrders(context.Background(), fixtures.OrderFilterByStatus(user.ID, model.OrderStatusCompleted))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestE2E_IntegrationLogRecordsVendorCalls(t *testing.T) {
	env := setupE2EEnvironment(t)
	user := helpers.CreateTestUser(t, env.DB, "k@example.com", 1000)

	_, err := env.OrderService.CreateOrder(context.Background(), user.ID, fixtures.TikTokViewsRequest(1000))
	require.NoError(t, err)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		entries, err := env.IntegrationLog.Recent(context.Background(), "add", 10)
		return err == nil && len(entries) == 1
	}, "vendor call was not logged")

	entries, err := env.IntegrationLog.Recent(context.Background(), "add", 10)
	require.NoError(t, err)
	assert.True(t, entries[0].Success)
	assert.NotContains(t, entries[0].Request, "e2e-key")
}
