package services

import (
	"errors"

	"github.com/nimasrn/engagement-reseller/internal/apperr"
	"github.com/nimasrn/engagement-reseller/internal/catalog"
	gateway "github.com/nimasrn/engagement-reseller/internal/gateways"
	"github.com/nimasrn/engagement-reseller/internal/ledger"
	"github.com/nimasrn/engagement-reseller/internal/pricing"
	"github.com/nimasrn/engagement-reseller/internal/reconciler"
	"github.com/nimasrn/engagement-reseller/internal/repository"
)

var (
	ErrNoTenant          = errors.New("user does not belong to a company")
	ErrUnknownService    = errors.New("unknown service")
	ErrAlreadyInvoiced   = errors.New("order already invoiced")
	ErrNoUpstreamOrder   = errors.New("order was never accepted upstream")
	ErrRefillNotAllowed  = errors.New("refill is only possible for completed or partial orders")
	ErrCancelNotAllowed  = errors.New("order is already settled")
	ErrMissingOrderID    = errors.New("provider returned no order id")
	ErrMissingSourceRef  = errors.New("billable source reference is required")
	ErrInvalidInvoiceAmt = errors.New("billable amount must be positive")
)

// coded wraps lower layer errors into application errors. Errors that already
// carry a code pass through.
func coded(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrInvoiceNotFound),
		errors.Is(err, ErrUnknownService),
		errors.Is(err, catalog.ErrServiceNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, message)

	case errors.Is(err, ErrNoTenant),
		errors.Is(err, pricing.ErrOutOfBounds),
		errors.Is(err, ErrNoUpstreamOrder),
		errors.Is(err, reconciler.ErrNotSubmitted),
		errors.Is(err, ErrRefillNotAllowed),
		errors.Is(err, ErrCancelNotAllowed),
		errors.Is(err, ErrMissingSourceRef),
		errors.Is(err, ErrInvalidInvoiceAmt),
		errors.Is(err, ledger.ErrInvalidAmount):
		return apperr.Wrap(apperr.CodeValidation, err, message)

	case errors.Is(err, ledger.ErrInsufficientCredit),
		errors.Is(err, repository.ErrInsufficientBalance):
		return apperr.Wrap(apperr.CodeInsufficientCredit, err, message)

	case errors.Is(err, ErrAlreadyInvoiced),
		errors.Is(err, repository.ErrOrderAlreadyLinked),
		errors.Is(err, repository.ErrDuplicateInvoice):
		return apperr.Wrap(apperr.CodeAlreadyInvoiced, err, message)

	case errors.Is(err, catalog.ErrUnavailable), gateway.IsUnavailable(err):
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err, message).WithUpstream(upstreamMessage(err))

	case gateway.IsRejected(err), errors.Is(err, ErrMissingOrderID):
		return apperr.Wrap(apperr.CodeUpstreamRejected, err, message).WithUpstream(upstreamMessage(err))
	}

	return apperr.Wrap(apperr.CodeInternal, err, message)
}

func upstreamMessage(err error) string {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return ""
}
