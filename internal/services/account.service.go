package services

import (
	"context"
	"strings"

	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/model"
	"github.com/nimasrn/engagement-reseller/internal/repository"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

type AccountLedger interface {
	Credit(ctx context.Context, userID, amount int64, reference string) (*model.LedgerMovement, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error)
}

type BillableInvoicer interface {
	Generate(ctx context.Context, b model.Billable, opts model.InvoiceOptions) (*model.Invoice, error)
}

type TopUpRequest struct {
	Amount    int64  `json:"amount"    validate:"required,gt=0"`
	Reference string `json:"reference" validate:"max=255"`
	Invoice   bool   `json:"invoice"`
}

type TopUpResult struct {
	Movement *model.LedgerMovement `json:"movement"`
	Invoice  *model.Invoice        `json:"invoice,omitempty"`
}

// AccountService exposes the credit ledger to the API.
type AccountService struct {
	users    UserRepository
	ledger   AccountLedger
	invoicer BillableInvoicer
}

func NewAccountService(users UserRepository, ledger AccountLedger, invoicer BillableInvoicer) *AccountService {
	return &AccountService{
		users:    users,
		ledger:   ledger,
		invoicer: invoicer,
	}
}

// TopUp credits a user. With Invoice set, the top-up is billed like an order,
// keyed by its reference so a replayed top-up is not billed twice.
func (s *AccountService) TopUp(ctx context.Context, userID int64, req TopUpRequest) (*TopUpResult, error) {
	if req.Amount <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "amount must be positive")
	}
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Invoice && req.Reference == "" {
		return nil, apperr.New(apperr.CodeValidation, "an invoiced top-up needs a reference")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, coded(err, "user not found")
	}

	mv, err := s.ledger.Credit(ctx, user.ID, req.Amount, req.Reference)
	if err != nil {
		return nil, coded(err, "failed to add credits")
	}
	result := &TopUpResult{Movement: mv}

	if req.Invoice && s.invoicer != nil {
		inv, err := s.invoicer.Generate(ctx, model.Billable{
			UserID:      user.ID,
			CompanyID:   user.CompanyID,
			SourceRef:   "topup:" + req.Reference,
			Description: "Credit top-up",
			Quantity:    req.Amount,
			Credits:     req.Amount,
		}, model.InvoiceOptions{})
		if err != nil {
			logger.Warn("Top-up invoice failed", "user_id", user.ID, "reference", req.Reference, "error", err)
		} else {
			result.Invoice = inv
		}
	}

	return result, nil
}

func (s *AccountService) Balance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, coded(err, "user not found")
	}
	return balance, nil
}

func (s *AccountService) Transactions(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	items, total, err := s.ledger.History(ctx, f)
	if err != nil {
		return nil, 0, coded(err, "failed to list transactions")
	}
	return items, total, nil
}
