package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lv-papertrade/internal/apperr"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.InvalidRequest("bad amount"), http.StatusBadRequest},
		{apperr.ErrInsufficientFunds, http.StatusBadRequest},
		{errors.Wrap(apperr.ErrInsufficientAsset, "settle"), http.StatusBadRequest},
		{apperr.ErrOrderNotFound, http.StatusNotFound},
		{errors.Wrap(apperr.ErrPriceUnavailable, "timeout"), http.StatusServiceUnavailable},
		{apperr.ErrAccountNotInitialized, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestWriteErrorHidesUnknownAndWrapContext(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: connection reset"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)

	rec = httptest.NewRecorder()
	WriteError(rec, errors.Wrap(apperr.ErrPriceUnavailable, "dial tcp: i/o timeout"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error fetching live price", body.Error)
	assert.Equal(t, "price_unavailable", body.Code)

	rec = httptest.NewRecorder()
	WriteError(rec, apperr.InvalidRequest("amount must be positive"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "amount must be positive: invalid request", body.Error)
}

func TestReadJSON(t *testing.T) {
	var v struct {
		Type string `json:"type"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"buy"}`))
	require.NoError(t, ReadJSON(r, &v))
	assert.Equal(t, "buy", v.Type)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"buy","extra":1}`))
	assert.Error(t, ReadJSON(r, &v))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"buy"}{}`))
	assert.Error(t, ReadJSON(r, &v))
}
