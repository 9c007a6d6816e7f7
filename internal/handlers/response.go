package handlers

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nimasrn/engagement-reseller/internal/apperr"
	xhttp "github.com/nimasrn/engagement-reseller/pkg/http"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
)

// UserHeader identifies the calling user. Authentication happens in front of
// this service.
const UserHeader = "X-User-ID"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	UpstreamError string `json:"upstream_error,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

type listResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

// readJSON decodes the body and runs struct validation on it.
func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	if err := json.Unmarshal(ctx.PostBody(), dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Field()+" "+validationMessage(fe))
	}
	sort.Strings(msgs)
	return apperr.New(apperr.CodeValidation, strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return "is invalid"
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

// writeError renders any error through its apperr code. Uncoded errors are
// internal and their text is not leaked.
func writeError(ctx *xhttp.RequestCtx, err error) {
	ae := apperr.As(err)
	if ae == nil {
		logger.Error("Unhandled error", "path", string(ctx.Path()), "error", err)
		ae = apperr.New(apperr.CodeInternal, "")
	}
	meta := apperr.MetadataFor(ae.Code())
	if meta.HTTPStatus >= 500 && ae.Code() != apperr.CodeUpstreamUnavailable {
		logger.Error("Request failed", "path", string(ctx.Path()), "code", ae.Code(), "error", err)
	}

	msg := ae.Message()
	if msg == "" {
		msg = meta.PublicMessage
	}
	writeJSON(ctx, meta.HTTPStatus, errorResponse{
		Error:         msg,
		Code:          string(ae.Code()),
		UpstreamError: ae.Upstream(),
		Retryable:     meta.Retryable,
	})
}

func callerID(ctx *xhttp.RequestCtx) (int64, error) {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek(UserHeader)))
	if raw == "" {
		return 0, apperr.New(apperr.CodeValidation, UserHeader+" header is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeValidation, UserHeader+" must be a positive integer")
	}
	return id, nil
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	raw, _ := ctx.UserValue(name).(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeValidation, "invalid "+name)
	}
	return id, nil
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) (int64, bool, error) {
	v := query(ctx, key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, apperr.New(apperr.CodeValidation, key+" must be an integer")
	}
	return n, true, nil
}

// page reads limit and offset, ignoring garbage the way list endpoints
// always have.
func page(ctx *xhttp.RequestCtx) (limit, offset int) {
	if n, err := strconv.Atoi(query(ctx, "limit")); err == nil {
		limit = n
	}
	if n, err := strconv.Atoi(query(ctx, "offset")); err == nil {
		offset = n
	}
	return limit, offset
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
