package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("x: %w", domain.ErrAlreadyUsed), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrAlreadyLinked), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrExpired), http.StatusGone},
		{fmt.Errorf("x: %w", domain.ErrTooManyAttempts), http.StatusTooManyRequests},
		{fmt.Errorf("x: %w", domain.ErrInsufficientAuthMethods), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w: %w", domain.ErrMergeFailed, domain.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: throttled", domain.ErrMergeFailed), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusOf(c.err), c.err.Error())
	}
}

func TestHTTPError_HidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	httpError(rr, errors.New("dynamodb: connection refused to 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp MessageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, http.StatusInternalServerError, resp.ErrorCode)
}
