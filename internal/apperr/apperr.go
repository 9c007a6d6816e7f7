package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInsufficientCredit  Code = "INSUFFICIENT_CREDIT"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamRejected    Code = "UPSTREAM_REJECTED"
	CodeAlreadyInvoiced     Code = "ALREADY_INVOICED"
	CodeConflict            Code = "CONFLICT"
	CodeInternal            Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed"},
	CodeNotFound:            {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeInsufficientCredit:  {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient credit"},
	CodeUpstreamUnavailable: {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "upstream provider unavailable"},
	CodeUpstreamRejected:    {HTTPStatus: http.StatusBadGateway, PublicMessage: "upstream provider rejected the request"},
	CodeAlreadyInvoiced:     {HTTPStatus: http.StatusConflict, PublicMessage: "order already invoiced"},
	CodeConflict:            {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeInternal:            {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded application error. Upstream carries the vendor's own
// message verbatim when there is one.
type Error struct {
	code     Code
	message  string
	upstream string
	cause    error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) WithUpstream(msg string) *Error {
	if e == nil {
		return nil
	}
	e.upstream = msg
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Upstream() string {
	if e == nil {
		return ""
	}
	return e.upstream
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first coded error in the chain, or
// CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
