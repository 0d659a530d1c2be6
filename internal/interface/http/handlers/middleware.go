package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/campushub/campus-hub/pkg/logger"
)

// ErrorWriter renders an error envelope. The server passes its own so every
// middleware answers in the same JSON shape as the handlers.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type requestIDKey struct{}

// RequestIDHeader is read from the request and echoed on the response.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID tags the request with an ID and a logger carrying it.
func WithRequestID(base *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			ctx = logger.WithContext(ctx, base.With(logger.RequestID(id)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request. Health probes log at debug.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live":
			level = slog.LevelDebug
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			logger.Latency(time.Since(start)),
			"ip", ClientIP(r),
		)
	})
}

// Recover answers 500 when a handler panics.
func Recover(log *slog.Logger, writeErr ErrorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error("panic recovered",
						"panic", v,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					writeErr(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets headers for a JSON-only API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ══════════════════════════════════════════════════════════════════════════════
// GUARDS
// ══════════════════════════════════════════════════════════════════════════════

// RequireAPIKey accepts the key from header or from "Authorization: Bearer".
// An empty key list rejects every request.
func RequireAPIKey(header string, keys []string, writeErr ErrorWriter) mux.MiddlewareFunc {
	if header == "" {
		header = "X-API-Key"
	}
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			valid = append(valid, []byte(k))
		}
	}

	accepted := func(key string) bool {
		ok := 0
		for _, v := range valid {
			ok |= subtle.ConstantTimeCompare([]byte(key), v)
		}
		return ok == 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(header)
			if key == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					key = bearer
				}
			}

			switch {
			case key == "":
				writeErr(w, r, http.StatusUnauthorized, "missing_api_key", "API key is required")
			case !accepted(key):
				logger.FromContext(r.Context()).Warn("rejected api key", "ip", ClientIP(r), "path", r.URL.Path)
				writeErr(w, r, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// LimitBody rejects declared oversize bodies up front and caps the rest
// while they are read.
func LimitBody(maxBytes int64, writeErr ErrorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeErr(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// windowLimiter counts requests per key in fixed one-minute windows. The
// whole table is dropped when a window rolls over, so no janitor goroutine
// is needed.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	counts map[string]int
	now    func() time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// allow reports whether key may proceed, and if not, how long until the
// current window ends.
func (l *windowLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.start) >= l.window {
		l.start = now
		clear(l.counts)
	}
	if l.counts[key] >= l.limit {
		return false, l.start.Add(l.window).Sub(now)
	}
	l.counts[key]++
	return true, 0
}

// RateLimit allows perMinute requests per client IP.
func RateLimit(perMinute int, writeErr ErrorWriter) mux.MiddlewareFunc {
	return rateLimit(newWindowLimiter(perMinute, time.Minute), writeErr)
}

func rateLimit(l *windowLimiter, writeErr ErrorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.allow(ClientIP(r))
			if !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeErr(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
