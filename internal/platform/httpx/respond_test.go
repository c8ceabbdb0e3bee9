package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: role 9", ErrNotFound), http.StatusNotFound},
		{ErrValidation, http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}

	rr := httptest.NewRecorder()
	RespondError(rr, ErrUnavailable)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestDecodeJSON(t *testing.T) {
	var target struct {
		All bool `json:"all"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"all":true}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.True(t, target.All)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"everything":true}`))
	assert.Error(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"all":true}{"all":false}`))
	assert.Error(t, DecodeJSON(req, &target))
}
