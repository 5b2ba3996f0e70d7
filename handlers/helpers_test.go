package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikeka317/wager-arbiter/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedVersion(t *testing.T) {
	five := int64(5)
	zero := int64(0)
	tests := []struct {
		name    string
		header  string
		body    *int64
		want    int64
		wantErr bool
	}{
		{"quoted etag", `"7"`, nil, 7, false},
		{"weak etag", `W/"7"`, &five, 7, false},
		{"bare number", "3", nil, 3, false},
		{"header wins over body", "2", &five, 2, false},
		{"body only", "", &five, 5, false},
		{"garbage header", "abc", &five, 0, true},
		{"zero header", "0", nil, 0, true},
		{"zero body", "", &zero, 0, true},
		{"missing", "", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				r.Header.Set("If-Match", tt.header)
			}
			got, err := expectedVersion(r, tt.body)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapServiceErrorToHTTP(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrMatchNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", services.ErrTournamentNotFound), http.StatusNotFound},
		{services.ErrStaleVersion, http.StatusConflict},
		{services.ErrDisputeExists, http.StatusConflict},
		{services.ErrAlertAcknowledged, http.StatusConflict},
		{services.ErrDuplicateScorecard, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: match is pending", services.ErrInvalidState), http.StatusUnprocessableEntity},
		{services.ErrForbiddenOperation, http.StatusForbidden},
		{services.ErrAuthenticationFailed, http.StatusUnauthorized},
		{fmt.Errorf("%w: timeout", services.ErrExternalService), http.StatusBadGateway},
		{services.ErrUploaderNotConfig, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			mapServiceErrorToHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestReadJSONRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	assert.ErrorContains(t, readJSON(httptest.NewRecorder(), r, &dst), "unknown key")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	assert.ErrorContains(t, readJSON(httptest.NewRecorder(), r, &dst), "single JSON value")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, readJSON(httptest.NewRecorder(), r, &dst))
	assert.Equal(t, "a", dst.Name)
}
