package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeUnknownSpread, http.StatusBadRequest},
		{CodeTooManyUniqueCards, http.StatusBadRequest},
		{CodeNoActiveSpread, http.StatusConflict},
		{CodeNotFound, http.StatusNotFound},
		{CodeEntropyExhausted, http.StatusServiceUnavailable},
		{CodeProviderUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("draw: %w", New(CodeTooManyUniqueCards, "too many"))
	assert.True(t, stderrors.Is(err, New(CodeTooManyUniqueCards, "")))
	assert.False(t, stderrors.Is(err, New(CodeEntropyExhausted, "")))
	assert.Equal(t, CodeTooManyUniqueCards, GetCode(err))
}

func TestToPayloadHidesNonDomainErrors(t *testing.T) {
	status, payload := ToPayload(stderrors.New("database password is hunter2"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, payload.Error.Code)
	assert.Equal(t, "internal error", payload.Error.Message)
}

func TestToPayloadUsesDomainMessage(t *testing.T) {
	cause := stderrors.New("upstream")
	status, payload := ToPayload(Wrap(CodeEntropyExhausted, "all entropy sources failed", cause))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, CodeEntropyExhausted, payload.Error.Code)
	assert.Equal(t, "all entropy sources failed", payload.Error.Message)
}
