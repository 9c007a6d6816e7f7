package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/nimasrn/engagement-reseller/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func SetupTestDB(t *testing.T) *pg.DB {
	raw := repository.OpenTestDB(t)
	return pg.Wrap(raw, raw)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// adapters are cached by connection name
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

// CreateTestUser creates a user inside a fresh company.
func CreateTestUser(t *testing.T, db *pg.DB, email string, balance int64) *model.User {
	ctx := context.Background()
	users := repository.NewUserRepository(db)

	company, err := users.CreateCompany(ctx, "company of "+email)
	require.NoError(t, err)
	user, err := users.Create(ctx, &model.User{CompanyID: &company.ID, Email: email, Balance: balance})
	require.NoError(t, err)
	return user
}

func GetBalance(t *testing.T, db *pg.DB, userID int64) int64 {
	balance, err := repository.NewUserRepository(db).GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

// Vendor is an in-process fulfillment vendor speaking the action/key
// protocol. Orders are numbered from 123.
type Vendor struct {
	Server *httptest.Server

	mu       sync.Mutex
	services string
	add      http.HandlerFunc
	statuses map[string]string
	nextID   int64
	calls    map[string]int
}

func NewVendor(t *testing.T, servicesJSON string) *Vendor {
	v := &Vendor{
		services: servicesJSON,
		statuses: map[string]string{},
		nextID:   122,
		calls:    map[string]int{},
	}
	v.Server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.Server.Close)
	return v
}

// OnAdd replaces the default action=add behavior.
func (v *Vendor) OnAdd(h http.HandlerFunc) {
	v.mu.Lock()
	v.add = h
	v.mu.Unlock()
}

// SetStatus stores the raw action=status body returned for orderID.
func (v *Vendor) SetStatus(orderID, body string) {
	v.mu.Lock()
	v.statuses[orderID] = body
	v.mu.Unlock()
}

func (v *Vendor) Calls(action string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[action]
}

func (v *Vendor) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	w.Header().Set("Content-Type", "application/json")

	v.mu.Lock()
	v.calls[action]++
	add := v.add
	v.mu.Unlock()

	switch action {
	case "services":
		_, _ = w.Write([]byte(v.services))
	case "add":
		if add != nil {
			add(w, r)
			return
		}
		v.mu.Lock()
		v.nextID++
		id := v.nextID
		v.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"order": "%d"}`, id)
	case "status":
		v.mu.Lock()
		defer v.mu.Unlock()
		if ids := q.Get("orders"); ids != "" {
			out := map[string]json.RawMessage{}
			for _, id := range strings.Split(ids, ",") {
				out[id] = v.statusBody(id)
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		_, _ = w.Write(v.statusBody(q.Get("order")))
	case "balance":
		_, _ = w.Write([]byte(`{"balance": "100.84292", "currency": "USD"}`))
	default:
		_, _ = w.Write([]byte(`{"error": "Incorrect request"}`))
	}
}

func (v *Vendor) statusBody(id string) json.RawMessage {
	if body, ok := v.statuses[id]; ok {
		return json.RawMessage(body)
	}
	return json.RawMessage(`{"error": "Incorrect order ID"}`)
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
