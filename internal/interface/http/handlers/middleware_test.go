package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-hub/pkg/logger"
)

func codeWriter(w http.ResponseWriter, _ *http.Request, status int, code, _ string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(code))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey("", []string{"k1", "k2"}, codeWriter)(okHandler)

	tests := []struct {
		name   string
		header string
		value  string
		status int
		body   string
	}{
		{"missing", "", "", http.StatusUnauthorized, "missing_api_key"},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized, "invalid_api_key"},
		{"header", "X-API-Key", "k2", http.StatusNoContent, ""},
		{"bearer", "Authorization", "Bearer k1", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestRequireAPIKey_NoKeysDeniesAll(t *testing.T) {
	h := RequireAPIKey("X-API-Key", nil, codeWriter)(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-API-Key", "")
	req.Header.Set("Authorization", "Bearer ")

	rec := serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLimitBody(t *testing.T) {
	h := LimitBody(8, codeWriter)(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecover(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Recover(logger.Nop(), codeWriter)(boom)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_server_error", rec.Body.String())
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(logger.Nop())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = serve(h, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestRateLimit_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newWindowLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	h := rateLimit(l, codeWriter)(okHandler)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return r
	}

	assert.Equal(t, http.StatusNoContent, serve(h, req("1.1.1.1")).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.1.1.1")).Code)

	now = now.Add(20 * time.Second)
	rec := serve(h, req("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "40", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, serve(h, req("2.2.2.2")).Code)

	now = now.Add(40 * time.Second)
	assert.Equal(t, http.StatusNoContent, serve(h, req("1.1.1.1")).Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))
}
