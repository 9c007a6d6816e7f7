package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/pkg/clock"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type MockStatusSource struct {
	mock.Mock
}

func (m *MockStatusSource) GetStatus(ctx context.Context, orderID string) (*gateway.Response[gateway.OrderStatus], error) {
	args := m.Called(ctx, orderID)
	resp, _ := args.Get(0).(*gateway.Response[gateway.OrderStatus])
	return resp, args.Error(1)
}

func (m *MockStatusSource) GetStatusBatch(ctx context.Context, orderIDs []string) (*gateway.Response[map[string]gateway.OrderStatus], error) {
	args := m.Called(ctx, orderIDs)
	resp, _ := args.Get(0).(*gateway.Response[map[string]gateway.OrderStatus])
	return resp, args.Error(1)
}

type failedOrders struct {
	mu      sync.Mutex
	reasons map[int64]string
	calls   int
}

func (n *failedOrders) OrderFailed(_ context.Context, order *model.Order, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reasons == nil {
		n.reasons = map[int64]string{}
	}
	n.reasons[order.ID] = reason
	n.calls++
}

type fixture struct {
	orders   *repository.OrderRepository
	source   *MockStatusSource
	notifier *failedOrders
	clock    *clock.FakeClock
	rec      *Reconciler
	userID   int64
}

func setup(t *testing.T, config Config) *fixture {
	t.Helper()
	raw := repository.OpenTestDB(t)
	db := pg.Wrap(raw, raw)

	users := repository.NewUserRepository(db)
	user, err := users.Create(context.Background(), &model.User{Email: "r@example.com"})
	require.NoError(t, err)

	f := &fixture{
		orders:   repository.NewOrderRepository(db),
		source:   &MockStatusSource{},
		notifier: &failedOrders{},
		clock:    clock.NewFakeClock(now),
		userID:   user.ID,
	}
	config.Clock = f.clock
	f.rec = New(f.orders, f.source, f.notifier, config)
	return f
}

func (f *fixture) order(t *testing.T, apiID string, qty int64, status model.OrderStatus) *model.Order {
	t.Helper()
	o := &model.Order{
		UserID:    f.userID,
		ServiceID: 1,
		Link:      "https://example.com/p/1",
		Quantity:  qty,
		Status:    status,
	}
	if apiID != "" {
		o.APIOrderID = &apiID
	}
	created, err := f.orders.Create(context.Background(), o)
	require.NoError(t, err)
	return created
}

func (f *fixture) reload(t *testing.T, id int64) *model.Order {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func batch(statuses map[string]gateway.OrderStatus) *gateway.Response[map[string]gateway.OrderStatus] {
	return &gateway.Response[map[string]gateway.OrderStatus]{Success: true, StatusCode: 200, Data: statuses}
}

func status(s string, remains int64) gateway.OrderStatus {
	return gateway.OrderStatus{Status: s, Remains: gateway.FlexInt{Value: remains, Valid: true}}
}

func TestCheckOrder_Completed(t *testing.T) {
	f := setup(t, Config{})
	o := f.order(t, "123", 100, model.OrderStatusPending)

	f.source.On("GetStatus", mock.Anything, "123").
		Return(&gateway.Response[gateway.OrderStatus]{Success: true, Data: status("Completed", 0)}, nil).Once()

	updated, err := f.rec.CheckOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, updated.Status)

	stored := f.reload(t, o.ID)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.CurrentCount)
	assert.Equal(t, int64(100), *stored.CurrentCount)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.LastCheckedAt)
	f.source.AssertExpectations(t)
}

func TestCheckOrder_Errors(t *testing.T) {
	f := setup(t, Config{})
	draft := f.order(t, "", 100, model.OrderStatusPending)
	unknown := f.order(t, "404", 100, model.OrderStatusPending)
	down := f.order(t, "503", 100, model.OrderStatusPending)

	_, err := f.rec.CheckOrder(context.Background(), draft.ID)
	assert.ErrorIs(t, err, ErrNotSubmitted)

	_, err = f.rec.CheckOrder(context.Background(), 9999)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	f.source.On("GetStatus", mock.Anything, "404").
		Return(&gateway.Response[gateway.OrderStatus]{Data: gateway.OrderStatus{Error: "Incorrect order ID"}}, nil).Once()
	_, err = f.rec.CheckOrder(context.Background(), unknown.ID)
	assert.True(t, gateway.IsRejected(err))

	f.source.On("GetStatus", mock.Anything, "503").
		Return(&gateway.Response[gateway.OrderStatus]{}, &gateway.UpstreamError{Kind: gateway.KindUnavailable, Action: "status"}).Once()
	_, err = f.rec.CheckOrder(context.Background(), down.ID)
	assert.True(t, gateway.IsUnavailable(err))
	assert.Equal(t, model.OrderStatusPending, f.reload(t, down.ID).Status)
}

func TestRunBatch_PerOrderErrorsDoNotAbort(t *testing.T) {
	f := setup(t, Config{Throttle: time.Millisecond})
	ok := f.order(t, "1", 100, model.OrderStatusPending)
	vendorErr := f.order(t, "2", 100, model.OrderStatusPending)
	missing := f.order(t, "3", 100, model.OrderStatusPending)
	failed := f.order(t, "4", 100, model.OrderStatusInProgress)
	f.order(t, "5", 100, model.OrderStatusCompleted)

	f.source.On("GetStatusBatch", mock.Anything, mock.MatchedBy(func(ids []string) bool { return len(ids) == 4 })).
		Return(batch(map[string]gateway.OrderStatus{
			"1": status("In progress", 40),
			"2": {Error: "Incorrect order ID"},
			"4": status("Canceled", 100),
		}), nil).Once()

	report := f.rec.RunBatch(context.Background())

	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 2, report.Failed)
	errs := multierr.Errors(report.Err)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, report.Err, ErrMissingInBatch)

	assert.Equal(t, model.OrderStatusInProgress, f.reload(t, ok.ID).Status)
	assert.Equal(t, int64(60), *f.reload(t, ok.ID).CurrentCount)
	assert.Equal(t, model.OrderStatusCanceled, f.reload(t, failed.ID).Status)

	// orders that could not be read are still marked as checked
	assert.NotNil(t, f.reload(t, vendorErr.ID).LastCheckedAt)
	assert.NotNil(t, f.reload(t, missing.ID).LastCheckedAt)

	assert.Equal(t, map[int64]string{failed.ID: "vendor reported canceled"}, f.notifier.reasons)
	f.source.AssertExpectations(t)
}

func TestRunBatch_ChunkFailureCountsEveryOrder(t *testing.T) {
	f := setup(t, Config{ChunkSize: 2})
	for _, id := range []string{"1", "2", "3"} {
		f.order(t, id, 100, model.OrderStatusPending)
	}

	f.source.On("GetStatusBatch", mock.Anything, []string{"1", "2"}).
		Return(&gateway.Response[map[string]gateway.OrderStatus]{}, errors.New("timeout")).Once()
	f.source.On("GetStatusBatch", mock.Anything, []string{"3"}).
		Return(batch(map[string]gateway.OrderStatus{"3": status("Completed", 0)}), nil).Once()

	report := f.rec.RunBatch(context.Background())

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Failed)
	assert.Error(t, report.Err)
	f.source.AssertExpectations(t)
}

func TestRunBatch_StalestFirstAndCapped(t *testing.T) {
	f := setup(t, Config{BatchSize: 2})
	a := f.order(t, "a", 100, model.OrderStatusPending)
	b := f.order(t, "b", 100, model.OrderStatusPending)
	f.order(t, "c", 100, model.OrderStatusPending)
	require.NoError(t, f.orders.Touch(context.Background(), now.Add(-time.Hour), a.ID, b.ID))

	f.source.On("GetStatusBatch", mock.Anything, []string{"c", "a"}).
		Return(batch(map[string]gateway.OrderStatus{
			"a": status("Pending", 100),
			"c": status("Pending", 100),
		}), nil).Once()

	report := f.rec.RunBatch(context.Background())
	assert.NoError(t, report.Err)
	assert.Equal(t, 2, report.Checked)
	f.source.AssertExpectations(t)
}

func TestRunBatch_ReplayIsLastWrite(t *testing.T) {
	f := setup(t, Config{})
	o := f.order(t, "9", 100, model.OrderStatusPending)

	f.source.On("GetStatusBatch", mock.Anything, []string{"9"}).
		Return(batch(map[string]gateway.OrderStatus{"9": status("In progress", 30)}), nil).Twice()

	first := f.rec.RunBatch(context.Background())
	f.clock.Advance(time.Minute)
	second := f.rec.RunBatch(context.Background())

	assert.Equal(t, 1, first.Updated)
	assert.Equal(t, 0, second.Updated)
	stored := f.reload(t, o.ID)
	assert.Equal(t, int64(70), *stored.CurrentCount)
	assert.True(t, now.Add(time.Minute).Equal(*stored.LastCheckedAt))
}

func TestRunBatch_OrderSettledDuringPassIsKept(t *testing.T) {
	f := setup(t, Config{})
	done := f.order(t, "77", 100, model.OrderStatusPending)
	canceled := f.order(t, "78", 100, model.OrderStatusPending)

	f.source.On("GetStatus", mock.Anything, "77").
		Return(&gateway.Response[gateway.OrderStatus]{Success: true, Data: status("Completed", 0)}, nil).Once()
	f.source.On("GetStatus", mock.Anything, "78").
		Return(&gateway.Response[gateway.OrderStatus]{Success: true, Data: status("Canceled", 100)}, nil).Once()
	f.source.On("GetStatusBatch", mock.Anything, []string{"77", "78"}).
		Run(func(mock.Arguments) {
			// both orders settle on demand while the batch call is in flight
			_, err := f.rec.CheckOrder(context.Background(), done.ID)
			require.NoError(t, err)
			_, err = f.rec.CheckOrder(context.Background(), canceled.ID)
			require.NoError(t, err)
		}).
		Return(batch(map[string]gateway.OrderStatus{
			"77": status("In progress", 50),
			"78": status("Canceled", 100),
		}), nil).Once()

	report := f.rec.RunBatch(context.Background())
	assert.NoError(t, report.Err)
	assert.Equal(t, 2, report.Checked)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Failed)

	stored := f.reload(t, done.ID)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, int64(100), *stored.CurrentCount)
	assert.Equal(t, int64(0), *stored.Remains)

	assert.Equal(t, model.OrderStatusCanceled, f.reload(t, canceled.ID).Status)
	assert.Equal(t, 1, f.notifier.calls)
	f.source.AssertExpectations(t)
}

func TestCheckOrder_SettledOrderIsFrozen(t *testing.T) {
	f := setup(t, Config{})
	o := f.order(t, "88", 100, model.OrderStatusPending)

	f.source.On("GetStatus", mock.Anything, "88").
		Return(&gateway.Response[gateway.OrderStatus]{Success: true, Data: status("Completed", 0)}, nil).Once()
	_, err := f.rec.CheckOrder(context.Background(), o.ID)
	require.NoError(t, err)

	f.source.On("GetStatus", mock.Anything, "88").
		Return(&gateway.Response[gateway.OrderStatus]{Success: true, Data: status("In progress", 40)}, nil).Once()
	got, err := f.rec.CheckOrder(context.Background(), o.ID)
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusCompleted, got.Status)
	assert.Equal(t, int64(0), *got.Remains)
	stored := f.reload(t, o.ID)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	assert.Equal(t, int64(100), *stored.CurrentCount)
	f.source.AssertExpectations(t)
}

func TestRunAll_PagesThroughEveryOrder(t *testing.T) {
	f := setup(t, Config{BatchSize: 2})
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		f.order(t, id, 10, model.OrderStatusPending)
	}

	f.source.On("GetStatusBatch", mock.Anything, mock.Anything).
		Return(batch(map[string]gateway.OrderStatus{
			"1": status("Completed", 0),
			"2": status("Completed", 0),
			"3": status("Completed", 0),
			"4": status("Completed", 0),
			"5": status("Completed", 0),
		}), nil)

	report := f.rec.RunAll(context.Background(), 0)
	assert.NoError(t, report.Err)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 5, report.Updated)
	f.source.AssertNumberOfCalls(t, "GetStatusBatch", 3)

	limited := setup(t, Config{BatchSize: 2})
	for _, id := range []string{"1", "2", "3"} {
		limited.order(t, id, 10, model.OrderStatusPending)
	}
	limited.source.On("GetStatusBatch", mock.Anything, mock.Anything).
		Return(batch(map[string]gateway.OrderStatus{}), nil)
	report = limited.rec.RunAll(context.Background(), 1)
	assert.Equal(t, 2, report.Checked)
}
