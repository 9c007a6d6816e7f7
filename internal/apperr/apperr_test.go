package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeNotFound, http.StatusNotFound, false},
		{CodeInsufficientCredit, http.StatusPaymentRequired, false},
		{CodeUpstreamUnavailable, http.StatusServiceUnavailable, true},
		{CodeUpstreamRejected, http.StatusBadGateway, false},
		{CodeAlreadyInvoiced, http.StatusConflict, false},
		{CodeInternal, http.StatusInternalServerError, true},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, tt.code)
	}
}

func TestWrapAndAs(t *testing.T) {
	cause := stdErrors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(CodeUpstreamRejected, cause, "submit failed").WithUpstream("insufficient_funds"))

	typed := As(err)
	if assert.NotNil(t, typed) {
		assert.Equal(t, CodeUpstreamRejected, typed.Code())
		assert.Equal(t, "insufficient_funds", typed.Upstream())
		assert.Equal(t, "submit failed", typed.Message())
	}
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, CodeUpstreamRejected))
	assert.Equal(t, CodeInternal, CodeOf(cause))
	assert.Nil(t, As(nil))
	assert.False(t, Is(nil, CodeInternal))
}

func TestNilError(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Equal(t, "", e.Error())
	assert.Nil(t, e.Unwrap())
}
