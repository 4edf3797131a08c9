package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	middleware.RequestID(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestWriteOK(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) {
		WriteOK(w, r, http.StatusCreated, map[string]int{"n": 1})
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.OK)
	assert.Nil(t, env.Error)
	assert.NotEmpty(t, env.Meta.RequestID)
	assert.Nil(t, env.Meta.Count)
}

func TestWriteList(t *testing.T) {
	rec := serve(func(w http.ResponseWriter, r *http.Request) {
		WriteList(w, r, []string{"a", "b"}, 2)
	})
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Meta.Count)
	assert.Equal(t, 2, *env.Meta.Count)
}

func TestWriteErrorCodes(t *testing.T) {
	tests := []struct {
		status   int
		code     string
		wantCode string
	}{
		{status: http.StatusNotFound, wantCode: "not_found"},
		{status: http.StatusConflict, code: "stale_review", wantCode: "stale_review"},
		{status: http.StatusTooManyRequests, wantCode: "rate_limited"},
		{status: http.StatusTeapot, wantCode: "error"},
	}
	for _, tc := range tests {
		rec := serve(func(w http.ResponseWriter, r *http.Request) {
			WriteErrorCode(w, r, tc.status, tc.code, "")
		})
		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.False(t, env.OK)
		require.NotNil(t, env.Error)
		assert.Equal(t, tc.wantCode, env.Error.Code)
		assert.Equal(t, http.StatusText(tc.status), env.Error.Message)
	}
}
