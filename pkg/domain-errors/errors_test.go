package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errCause = errors.New("cause")

func TestWrapKeepsCauseReachable(t *testing.T) {
	err := Wrap(errCause, CodeConflict, "registry is frozen")

	assert.ErrorIs(t, err, errCause)
	assert.True(t, HasCode(err, CodeConflict))
	assert.Equal(t, "registry is frozen: cause", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeUnauthorized, "capability rejected"))
	assert.True(t, Is(err, CodeUnauthorized))
	assert.False(t, Is(err, CodeConflict))
	assert.False(t, HasCode(errCause, CodeInternal))
}

func TestMessageOfHidesInternal(t *testing.T) {
	assert.Equal(t, "internal server error", MessageOf(Wrap(errCause, CodeInternal, "db exploded")))
	assert.Equal(t, "internal server error", MessageOf(errCause))
	assert.Equal(t, "number out of range", MessageOf(New(CodeBadRequest, "number out of range")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:         http.StatusBadRequest,
		CodeInvariantViolation: http.StatusBadRequest,
		CodeConflict:           http.StatusConflict,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeNotFound:           http.StatusNotFound,
		CodeUnavailable:        http.StatusServiceUnavailable,
		CodeTooManyRequests:    http.StatusTooManyRequests,
		CodeInternal:           http.StatusInternalServerError,
		Code("unknown"):        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
