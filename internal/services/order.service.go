package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimasrn/engagement-reseller/internal/apperr"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/ledger"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/pricing"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
)

type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (*model.User, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) (*model.Order, error)
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error)
	SetRefillID(ctx context.Context, id int64, refillID string) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
}

type ServiceCatalog interface {
	Get(ctx context.Context, serviceID int64) (*model.ServiceCatalogEntry, error)
	List(ctx context.Context) ([]model.ServiceCatalogEntry, error)
}

type RateResolver interface {
	ResolveRate(ctx context.Context, userID int64, platform, serviceType string) (*model.Rate, error)
}

type CreditLedger interface {
	Reserve(ctx context.Context, userID, amount int64) (*ledger.Reservation, error)
}

type OrderGateway interface {
	SubmitOrder(ctx context.Context, serviceID int64, link string, quantity int64) (*gateway.Response[gateway.AddResult], error)
	Refill(ctx context.Context, orderID string) (*gateway.Response[gateway.RefillResult], error)
	Cancel(ctx context.Context, orderID string) (*gateway.Response[gateway.CancelResult], error)
	GetBalance(ctx context.Context) (*gateway.Response[gateway.Balance], error)
}

type Invoicer interface {
	CreateInvoice(ctx context.Context, orderID int64, opts model.InvoiceOptions) (*model.Invoice, error)
}

type StatusChecker interface {
	CheckOrder(ctx context.Context, orderID int64) (*model.Order, error)
}

// Notifier is fire-and-forget. Implementations must not block.
type Notifier interface {
	LowCredit(ctx context.Context, userID, balance, threshold int64)
	OrderFailed(ctx context.Context, order *model.Order, reason string)
}

type OrderServiceDeps struct {
	Users        UserRepository
	Orders       OrderRepository
	Transactions TransactionRepository
	Catalog      ServiceCatalog
	Pricing      RateResolver
	Ledger       CreditLedger
	Gateway      OrderGateway
	Invoicer     Invoicer
	Checker      StatusChecker
	Notifier     Notifier
}

type OrderServiceConfig struct {
	AutoInvoice        bool
	LowCreditThreshold int64
}

type OrderService struct {
	users        UserRepository
	orders       OrderRepository
	transactions TransactionRepository
	catalog      ServiceCatalog
	pricing      RateResolver
	ledger       CreditLedger
	gateway      OrderGateway
	invoicer     Invoicer
	checker      StatusChecker
	notifier     Notifier
	config       OrderServiceConfig
}

func NewOrderService(deps OrderServiceDeps, config OrderServiceConfig) *OrderService {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	return &OrderService{
		users:        deps.Users,
		orders:       deps.Orders,
		transactions: deps.Transactions,
		catalog:      deps.Catalog,
		pricing:      deps.Pricing,
		ledger:       deps.Ledger,
		gateway:      deps.Gateway,
		invoicer:     deps.Invoicer,
		checker:      deps.Checker,
		notifier:     deps.Notifier,
		config:       config,
	}
}

// CreateOrder admits an order. Whatever happens, a debit ends up either
// explained by a stored order or reversed.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req model.CreateOrderRequest) (*model.OrderResult, error) {
	result, err := s.createOrder(ctx, userID, req)

	outcome := "success"
	switch {
	case err != nil:
		outcome = strings.ToLower(string(apperr.CodeOf(err)))
	case result.UpstreamError != "":
		outcome = "degraded"
	}
	prom.IncOrderAdmission(outcome)

	return result, err
}

func (s *OrderService) createOrder(ctx context.Context, userID int64, req model.CreateOrderRequest) (*model.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	req.Link = strings.TrimSpace(req.Link)

	// 1. tenant
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, coded(err, "user not found")
	}
	if !user.HasTenant() {
		return nil, coded(ErrNoTenant, "user has no tenant")
	}

	// 2. catalog
	entry, err := s.service(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	// 3. catalog bounds
	if !entry.AcceptsQuantity(req.Quantity) {
		return nil, coded(fmt.Errorf("%w: %d not in [%d, %d]", pricing.ErrOutOfBounds, req.Quantity, entry.Min, entry.Max), "quantity out of bounds")
	}

	// 4. price, nothing debited yet
	rate, cost, err := s.price(ctx, user.ID, entry, req.Quantity)
	if err != nil {
		return nil, err
	}
	if user.Balance < cost {
		return nil, coded(fmt.Errorf("%w: balance %d, cost %d", ledger.ErrInsufficientCredit, user.Balance, cost), "insufficient credit")
	}

	// 5. debit
	reservation, err := s.ledger.Reserve(ctx, user.ID, cost)
	if err != nil {
		return nil, coded(err, "failed to debit credits")
	}

	// from here on the admission runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	draft := &model.Order{
		UserID:         user.ID,
		CompanyID:      user.CompanyID,
		ServiceID:      entry.ServiceID,
		ServiceName:    entry.Name,
		Platform:       entry.Platform,
		ServiceType:    entry.ServiceType,
		Link:           req.Link,
		Quantity:       req.Quantity,
		CreditsCharged: cost,
		Status:         model.OrderStatusPending,
	}

	// 6. upstream
	resp, submitErr := s.gateway.SubmitOrder(ctx, entry.ServiceID, req.Link, req.Quantity)
	upstreamID := ""
	if resp != nil {
		upstreamID = strings.TrimSpace(string(resp.Data.OrderID))
	}
	if upstreamID == "" {
		if submitErr == nil {
			submitErr = ErrMissingOrderID
		}
		s.rollback(ctx, reservation, draft, submitErr.Error())
		return nil, coded(submitErr, "upstream provider did not accept the order")
	}

	// 7. an id next to an error is a degraded success, money may be committed upstream
	now := time.Now().UTC()
	draft.APIOrderID = &upstreamID
	draft.SubmittedAt = &now
	if submitErr != nil {
		draft.UpstreamError = upstreamMessage(submitErr)
		if draft.UpstreamError == "" {
			draft.UpstreamError = submitErr.Error()
		}
		logger.Warn("Upstream accepted order with an error", "user_id", user.ID, "api_order_id", upstreamID, "error", submitErr)
	}

	// 8. persist order and journal together
	var order *model.Order
	err = reservation.Commit(ctx, func(ctx context.Context, mv model.LedgerMovement) error {
		created, err := s.orders.Create(ctx, draft)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderID := created.ID
		if _, err := s.transactions.Create(ctx, &model.Transaction{
			UserID:        user.ID,
			OrderID:       &orderID,
			Type:          model.TransactionDebit,
			Amount:        cost,
			BalanceBefore: mv.BalanceBefore,
			BalanceAfter:  mv.BalanceAfter,
			Reference:     "order:" + upstreamID,
		}); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		order = created
		return nil
	})
	if err != nil {
		logger.Error("Order accepted upstream but could not be stored", "user_id", user.ID, "api_order_id", upstreamID, "credits", cost, "error", err)
		s.rollback(ctx, reservation, draft, "order could not be stored")
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to store order")
	}

	movement := reservation.Movement()
	logger.Info("Order admitted", "order_id", order.ID, "user_id", user.ID, "api_order_id", upstreamID, "credits", cost, "rate_source", rate.Source)

	// 9. invoice
	if s.config.AutoInvoice && s.invoicer != nil {
		if inv, err := s.invoicer.CreateInvoice(ctx, order.ID, model.InvoiceOptions{}); err != nil {
			if !apperr.Is(err, apperr.CodeAlreadyInvoiced) {
				logger.Warn("Auto invoice failed", "order_id", order.ID, "error", err)
			}
		} else {
			order.InvoiceID = &inv.ID
		}
	}

	if s.config.LowCreditThreshold > 0 && movement.BalanceAfter < s.config.LowCreditThreshold {
		s.notifier.LowCredit(ctx, user.ID, movement.BalanceAfter, s.config.LowCreditThreshold)
	}

	return &model.OrderResult{
		Order:           order,
		CreditsDeducted: cost,
		UpstreamOrderID: upstreamID,
		UpstreamError:   draft.UpstreamError,
		BalanceAfter:    movement.BalanceAfter,
	}, nil
}

// rollback gives the reserved credits back. A reversal that keeps failing
// leaves a debit nobody explains, so it is retried and then logged loudly.
func (s *OrderService) rollback(ctx context.Context, reservation *ledger.Reservation, draft *model.Order, reason string) {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = reservation.Rollback(ctx); err == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	if err != nil {
		logger.Error("Debit could not be reversed", "user_id", reservation.UserID(), "amount", reservation.Amount(), "error", err)
	} else {
		logger.Info("Debit reversed", "user_id", reservation.UserID(), "amount", reservation.Amount(), "reason", reason)
	}

	failed := *draft
	failed.Status = model.OrderStatusFail
	s.notifier.OrderFailed(ctx, &failed, reason)
}

func (s *OrderService) service(ctx context.Context, serviceID int64) (*model.ServiceCatalogEntry, error) {
	entry, err := s.catalog.Get(ctx, serviceID)
	if err != nil {
		return nil, coded(err, fmt.Sprintf("service %d is not available", serviceID))
	}
	return entry, nil
}

func (s *OrderService) price(ctx context.Context, userID int64, entry *model.ServiceCatalogEntry, quantity int64) (*model.Rate, int64, error) {
	rate, err := s.pricing.ResolveRate(ctx, userID, entry.Platform, entry.ServiceType)
	if err != nil {
		return nil, 0, coded(err, "failed to resolve price")
	}
	if err := pricing.CheckBounds(rate, quantity); err != nil {
		return nil, 0, coded(err, "quantity out of bounds")
	}
	cost, err := pricing.Cost(rate.CreditsPerUnit, quantity)
	if err != nil {
		return nil, 0, coded(err, "quantity out of bounds")
	}
	if cost <= 0 {
		return nil, 0, apperr.New(apperr.CodeInternal, "resolved price is not positive")
	}
	return rate, cost, nil
}

// Quote prices an order without touching the ledger or the vendor.
func (s *OrderService) Quote(ctx context.Context, userID, serviceID, quantity int64) (*model.Quote, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, coded(err, "user not found")
	}
	entry, err := s.service(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !entry.AcceptsQuantity(quantity) {
		return nil, coded(fmt.Errorf("%w: %d not in [%d, %d]", pricing.ErrOutOfBounds, quantity, entry.Min, entry.Max), "quantity out of bounds")
	}
	rate, cost, err := s.price(ctx, user.ID, entry, quantity)
	if err != nil {
		return nil, err
	}
	return &model.Quote{
		Service:  entry,
		Quantity: quantity,
		Credits:  cost,
		Rate:     rate,
	}, nil
}

func (s *OrderService) ListServices(ctx context.Context) ([]model.ServiceCatalogEntry, error) {
	list, err := s.catalog.List(ctx)
	if err != nil {
		return nil, coded(err, "service catalog unavailable")
	}
	return list, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, coded(err, "order not found")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error) {
	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, 0, coded(err, "failed to list orders")
	}
	return orders, total, nil
}

// ownedOrder hides orders of other users behind NotFound.
func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.New(apperr.CodeNotFound, "order not found")
	}
	if order.APIOrderID == nil || *order.APIOrderID == "" {
		return nil, coded(ErrNoUpstreamOrder, "order has no upstream id")
	}
	return order, nil
}

func (s *OrderService) RequestRefill(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusCompleted && order.Status != model.OrderStatusPartial {
		return nil, coded(ErrRefillNotAllowed, "refill not allowed")
	}

	resp, err := s.gateway.Refill(ctx, *order.APIOrderID)
	if err != nil {
		return nil, coded(err, "upstream refill failed")
	}

	refillID := string(resp.Data.RefillID)
	if err := s.orders.SetRefillID(ctx, order.ID, refillID); err != nil {
		return nil, coded(err, "failed to store refill id")
	}
	order.RefillID = &refillID

	logger.Info("Refill requested", "order_id", order.ID, "api_order_id", *order.APIOrderID, "refill_id", refillID)
	return order, nil
}

// CancelOrder asks the vendor to cancel. The local status follows on the next
// reconciliation.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsSettled() {
		return nil, coded(ErrCancelNotAllowed, "cancel not allowed")
	}

	if _, err := s.gateway.Cancel(ctx, *order.APIOrderID); err != nil {
		return nil, coded(err, "upstream cancel failed")
	}

	logger.Info("Cancel requested", "order_id", order.ID, "api_order_id", *order.APIOrderID)
	return order, nil
}

// CheckOrder refreshes the order from the vendor now instead of waiting for
// the next reconcile pass.
func (s *OrderService) CheckOrder(ctx context.Context, userID, orderID int64) (*model.Order, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	if s.checker == nil {
		return nil, apperr.New(apperr.CodeInternal, "status checks are not configured")
	}
	order, err := s.checker.CheckOrder(ctx, orderID)
	if err != nil {
		return nil, coded(err, "status check failed")
	}
	return order, nil
}

func (s *OrderService) ProviderBalance(ctx context.Context) (*gateway.Balance, error) {
	resp, err := s.gateway.GetBalance(ctx)
	if err != nil {
		return nil, coded(err, "failed to fetch provider balance")
	}
	return &resp.Data, nil
}

type nopNotifier struct{}

func (nopNotifier) LowCredit(context.Context, int64, int64, int64) {}

func (nopNotifier) OrderFailed(context.Context, *model.Order, string) {}
