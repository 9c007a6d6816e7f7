package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/pkg/clock"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"go.uber.org/multierr"
)

var (
	ErrNotSubmitted   = errors.New("order has no upstream id")
	ErrMissingInBatch = errors.New("order missing from status response")
)

const (
	DefaultBatchSize = 100
	DefaultChunkSize = 50
	DefaultThrottle  = 250 * time.Millisecond
)

type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	ListStale(ctx context.Context, limit int) ([]*model.Order, error)
	ListUnsettledAfter(ctx context.Context, afterID int64, limit int) ([]*model.Order, error)
	// UpdateProgress returns model.ErrOrderSettled when the stored order
	// settled after it was read.
	UpdateProgress(ctx context.Context, order *model.Order) error
	Touch(ctx context.Context, at time.Time, ids ...int64) error
}

type StatusSource interface {
	GetStatus(ctx context.Context, orderID string) (*gateway.Response[gateway.OrderStatus], error)
	GetStatusBatch(ctx context.Context, orderIDs []string) (*gateway.Response[map[string]gateway.OrderStatus], error)
}

type Notifier interface {
	OrderFailed(ctx context.Context, order *model.Order, reason string)
}

type Config struct {
	// BatchSize caps the orders of one fine pass and the page size of a
	// coarse pass.
	BatchSize int
	// ChunkSize is the number of ids per upstream status call.
	ChunkSize int
	// Throttle is the pause between two upstream calls of the same pass.
	Throttle time.Duration
	Clock    clock.Clock
}

// Report sums up one pass. Err combines every per-order failure.
type Report struct {
	Checked int
	Updated int
	Failed  int
	Err     error
}

func (r *Report) merge(o Report) {
	r.Checked += o.Checked
	r.Updated += o.Updated
	r.Failed += o.Failed
	r.Err = multierr.Append(r.Err, o.Err)
}

type Reconciler struct {
	orders   OrderStore
	source   StatusSource
	notifier Notifier
	config   Config
}

func New(orders OrderStore, source StatusSource, notifier Notifier, config Config) *Reconciler {
	if config.BatchSize <= 0 || config.BatchSize > DefaultBatchSize {
		config.BatchSize = DefaultBatchSize
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkSize > config.BatchSize {
		config.ChunkSize = config.BatchSize
	}
	if config.Throttle < 0 {
		config.Throttle = 0
	}
	if config.Clock == nil {
		config.Clock = clock.System()
	}
	return &Reconciler{
		orders:   orders,
		source:   source,
		notifier: notifier,
		config:   config,
	}
}

// CheckOrder refreshes one order from the vendor right away.
func (r *Reconciler) CheckOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.APIOrderID == nil || *order.APIOrderID == "" {
		return nil, ErrNotSubmitted
	}

	resp, err := r.source.GetStatus(ctx, *order.APIOrderID)
	if err != nil {
		return nil, err
	}
	if resp.Data.Error != "" {
		return nil, &gateway.UpstreamError{Kind: gateway.KindRejected, Action: "status", Message: resp.Data.Error}
	}

	if err := r.apply(ctx, order, resp.Data, r.config.Clock.Now()); err != nil {
		return nil, err
	}
	return order, nil
}

// RunBatch reconciles the stalest unsettled orders, at most BatchSize of
// them.
func (r *Reconciler) RunBatch(ctx context.Context) Report {
	orders, err := r.orders.ListStale(ctx, r.config.BatchSize)
	if err != nil {
		return Report{Err: fmt.Errorf("list stale orders: %w", err)}
	}
	return r.reconcile(ctx, orders)
}

// RunAll pages through every unsettled order by id. maxPages of zero means no
// limit.
func (r *Reconciler) RunAll(ctx context.Context, maxPages int) Report {
	var (
		report Report
		after  int64
	)
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if ctx.Err() != nil {
			report.Err = multierr.Append(report.Err, ctx.Err())
			break
		}
		orders, err := r.orders.ListUnsettledAfter(ctx, after, r.config.BatchSize)
		if err != nil {
			report.Err = multierr.Append(report.Err, fmt.Errorf("list unsettled orders after %d: %w", after, err))
			break
		}
		if len(orders) == 0 {
			break
		}
		if page > 0 && !r.pause(ctx) {
			break
		}
		report.merge(r.reconcile(ctx, orders))
		after = orders[len(orders)-1].ID
	}
	return report
}

func (r *Reconciler) reconcile(ctx context.Context, orders []*model.Order) Report {
	var report Report

	for start := 0; start < len(orders); start += r.config.ChunkSize {
		if start > 0 && !r.pause(ctx) {
			report.Err = multierr.Append(report.Err, ctx.Err())
			break
		}
		end := start + r.config.ChunkSize
		if end > len(orders) {
			end = len(orders)
		}
		report.merge(r.reconcileChunk(ctx, orders[start:end]))
	}

	return report
}

func (r *Reconciler) reconcileChunk(ctx context.Context, orders []*model.Order) Report {
	report := Report{Checked: len(orders)}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.APIOrderID != nil && *o.APIOrderID != "" {
			ids = append(ids, *o.APIOrderID)
		}
	}

	resp, err := r.source.GetStatusBatch(ctx, ids)
	if err != nil {
		report.Failed = len(orders)
		report.Err = fmt.Errorf("status batch of %d orders: %w", len(ids), err)
		logger.Warn("Status batch failed", "orders", len(ids), "error", err)
		return report
	}

	now := r.config.Clock.Now()
	var untouched []int64
	for _, o := range orders {
		if o.APIOrderID == nil || *o.APIOrderID == "" {
			report.Failed++
			report.Err = multierr.Append(report.Err, fmt.Errorf("order %d: %w", o.ID, ErrNotSubmitted))
			continue
		}
		st, ok := resp.Data[*o.APIOrderID]
		if !ok {
			report.Failed++
			report.Err = multierr.Append(report.Err, fmt.Errorf("order %d (%s): %w", o.ID, *o.APIOrderID, ErrMissingInBatch))
			untouched = append(untouched, o.ID)
			continue
		}
		if st.Error != "" {
			report.Failed++
			report.Err = multierr.Append(report.Err, fmt.Errorf("order %d (%s): vendor: %s", o.ID, *o.APIOrderID, st.Error))
			untouched = append(untouched, o.ID)
			continue
		}

		before := o.Status
		if !ApplyStatus(o, st.Update(), now) {
			untouched = append(untouched, o.ID)
			continue
		}
		if err := r.orders.UpdateProgress(ctx, o); err != nil {
			if errors.Is(err, model.ErrOrderSettled) {
				logger.Debug("Order settled during pass, skipping", "order_id", o.ID)
				continue
			}
			report.Failed++
			report.Err = multierr.Append(report.Err, fmt.Errorf("order %d: update: %w", o.ID, err))
			continue
		}
		report.Updated++
		r.notifyFailure(ctx, o, before)
	}

	if err := r.orders.Touch(ctx, now, untouched...); err != nil {
		report.Err = multierr.Append(report.Err, fmt.Errorf("touch %d orders: %w", len(untouched), err))
	}
	return report
}

func (r *Reconciler) apply(ctx context.Context, order *model.Order, st gateway.OrderStatus, now time.Time) error {
	before := order.Status
	if !ApplyStatus(order, st.Update(), now) {
		return r.orders.Touch(ctx, now, order.ID)
	}
	if err := r.orders.UpdateProgress(ctx, order); err != nil {
		if !errors.Is(err, model.ErrOrderSettled) {
			return fmt.Errorf("order %d: update: %w", order.ID, err)
		}
		stored, err := r.orders.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		*order = *stored
		return nil
	}
	r.notifyFailure(ctx, order, before)
	return nil
}

func (r *Reconciler) notifyFailure(ctx context.Context, order *model.Order, before model.OrderStatus) {
	if r.notifier == nil || before == order.Status || !order.Status.IsFailure() {
		return
	}
	r.notifier.OrderFailed(ctx, order, "vendor reported "+string(order.Status))
}

// pause waits for the throttle delay. It reports false when ctx ended first.
func (r *Reconciler) pause(ctx context.Context) bool {
	if r.config.Throttle <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(r.config.Throttle)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
