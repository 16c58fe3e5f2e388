package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "request not found")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
	assert.Equal(t, KindInternal, KindOf(nil))

	// The kind survives wrapping by callers
	wrapped := fmt.Errorf("handler: %w", New(KindInvalidState, "request is no longer PENDING"))
	assert.Equal(t, KindInvalidState, KindOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindInternal, "storage failure", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage failure: connection reset", err.Error())
}

func TestWithDetail(t *testing.T) {
	err := New(KindPreconditionFailed, "approval requires at least 2 quotes").
		WithDetail("quote_count", 1).
		WithDetail("quotes_required", 2)

	details := DetailsOf(err)
	assert.Equal(t, 1, details["quote_count"])
	assert.Equal(t, 2, details["quotes_required"])

	assert.Nil(t, DetailsOf(errors.New("plain error")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindInvalidState, http.StatusConflict},
		{KindPreconditionFailed, http.StatusUnprocessableEntity},
		{KindValidation, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(New(tc.kind, "boom")), "kind %s", tc.kind)
	}

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain error")))
}
