// Package http exposes the points engine over a JSON REST API.
// Read routes are public; write and admin routes sit behind an API key.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/campushub/campus-hub/internal/application/command"
	"github.com/campushub/campus-hub/internal/application/engine"
	"github.com/campushub/campus-hub/internal/application/query"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/interface/http/handlers"
)

// Config holds listener and guard settings. Zero RateLimitPerMinute or
// MaxBodyBytes disables that guard.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	RateLimitPerMinute int

	// APIKeys guard the write and admin routes. With no keys those routes
	// reject every request.
	APIKeyHeader string
	APIKeys      []string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		RateLimitPerMinute: 600,
		APIKeyHeader:       "X-API-Key",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// PointsEngine is the engine surface served over HTTP.
type PointsEngine interface {
	handlers.ProducerEngine

	SpendPoints(ctx context.Context, userID string, amount int, reason, referenceID string) (*command.AwardPointsResult, error)
	GetUserPoints(ctx context.Context, userID string) (*query.GetUserPointsResult, error)
	GetPointsHistory(ctx context.Context, userID string, page, limit int) (*query.GetPointsHistoryResult, error)
	GetLeaderboard(ctx context.Context, limit int) (*query.GetLeaderboardResult, error)
	GetRank(ctx context.Context, userID string) (*query.GetUserRankResult, error)
	ListUnlockedAchievements(ctx context.Context, userID string) ([]achievement.UnlockedAchievement, error)
	ListAvailableAchievements(ctx context.Context, userID string) ([]achievement.Definition, error)
	ListCatalog(ctx context.Context) ([]achievement.Definition, error)
	Reconcile(ctx context.Context) (*engine.ReconcileReport, error)
	ReloadCatalog(ctx context.Context) (int, error)
}

var _ PointsEngine = (*engine.Engine)(nil)

// Dependencies are supplied by cmd/engine.
type Dependencies struct {
	Engine        PointsEngine
	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config   Config
	deps     Dependencies
	logger   *slog.Logger
	router   *mux.Router
	producer *handlers.ProducerWebhook
	http     *http.Server

	// startedAt is zero while the server is not serving.
	startedAt atomic.Pointer[time.Time]
}

func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		config:   config,
		deps:     deps,
		logger:   deps.Logger.With("component", "http"),
		router:   mux.NewRouter(),
		producer: handlers.NewProducerWebhook(deps.Engine, deps.Logger),
	}
	s.setupRoutes()

	s.http = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler exposes the router to httptest.
func (s *Server) Handler() http.Handler { return s.router }

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router

	// Applied in order: recovery wraps everything.
	r.Use(handlers.Recover(s.logger, writeJSONError))
	r.Use(handlers.WithRequestID(s.logger))
	r.Use(handlers.AccessLog)
	r.Use(handlers.SecurityHeaders)
	if s.config.RateLimitPerMinute > 0 {
		r.Use(handlers.RateLimit(s.config.RateLimitPerMinute, writeJSONError))
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/leaderboard", s.handleGetLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/achievements", s.handleListCatalog).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/points", s.handleGetUserPoints).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/points/history", s.handleGetPointsHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/rank", s.handleGetRank).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/achievements", s.handleListUserAchievements).Methods(http.MethodGet)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Protected Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	protected := api.NewRoute().Subrouter()
	protected.Use(handlers.RequireAPIKey(s.config.APIKeyHeader, s.config.APIKeys, writeJSONError))
	if s.config.MaxBodyBytes > 0 {
		protected.Use(handlers.LimitBody(s.config.MaxBodyBytes, writeJSONError))
	}
	protected.HandleFunc("/users/{id}/points", s.handlePostPoints).Methods(http.MethodPost)
	protected.HandleFunc("/users/{id}/achievements/evaluate", s.handleEvaluateAchievements).Methods(http.MethodPost)
	protected.HandleFunc("/events", s.handleProducerEvent).Methods(http.MethodPost)
	protected.HandleFunc("/admin/reconcile", s.handleReconcile).Methods(http.MethodGet)
	protected.HandleFunc("/admin/catalog/reload", s.handleReloadCatalog).Methods(http.MethodPost)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

var errAlreadyServing = errors.New("http: server already serving")

// StartAsync serves in a goroutine. The channel yields at most one error and
// is closed when serving stops; a clean Shutdown yields nothing.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	now := time.Now()
	if !s.startedAt.CompareAndSwap(nil, &now) {
		errCh <- errAlreadyServing
		close(errCh)
		return errCh
	}

	s.logger.Info("listening", "address", s.config.Address())
	go func() {
		defer close(errCh)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: serve: %w", err)
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.startedAt.Swap(nil) == nil {
		return nil
	}
	s.logger.Info("shutting down")
	return s.http.Shutdown(ctx)
}

// Uptime is zero unless the server is serving.
func (s *Server) Uptime() time.Duration {
	if t := s.startedAt.Load(); t != nil {
		return time.Since(*t)
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// envelope is the shape of every response body.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, body envelope) {
	body.Timestamp = time.Now().UTC()
	body.RequestID = handlers.RequestID(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	respond(w, r, status, envelope{Success: status < 300, Data: data})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respond(w, r, status, envelope{Error: &APIError{Code: code, Message: message}})
}

// getQueryParamInt falls back to def when key is absent or not a number.
func getQueryParamInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}
