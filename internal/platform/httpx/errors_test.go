package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		shared.ErrInvalidCredentials:                          http.StatusUnauthorized,
		shared.ErrUnauthenticated:                             http.StatusUnauthorized,
		shared.ErrForbidden:                                   http.StatusForbidden,
		fmt.Errorf("sign up: %w", shared.ErrDuplicateUsername): http.StatusConflict,
		shared.ErrUnresolvedBinding:                           http.StatusUnprocessableEntity,
		shared.ErrValidation:                                  http.StatusBadRequest,
		shared.ErrNotFound:                                    http.StatusNotFound,
		shared.ErrRateLimited:                                 http.StatusTooManyRequests,
	}
	for err, want := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil, err)
		assert.Equal(t, want, rr.Code, err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesInternalFaults(t *testing.T) {
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	rr := httptest.NewRecorder()
	RespondError(rr, httptest.NewRequest(http.MethodGet, "/urp/user", nil), logger, errors.New("connection reset by peer"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "internal error", problem.Detail)
	assert.True(t, strings.HasPrefix(problem.Instance, "urn:uuid:"))
	assert.NotContains(t, rr.Body.String(), "connection reset")
	assert.Contains(t, logs.String(), "connection reset by peer")
	assert.Contains(t, logs.String(), problem.Instance)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Username string `json:"username"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"a","extra":1}`))
	assert.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"a"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "a", target.Username)
}
