package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-hub/internal/application/engine"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/memory"
	"github.com/campushub/campus-hub/internal/interface/http/handlers"
	"github.com/campushub/campus-hub/pkg/logger"
)

const testAPIKey = "secret-key"

type staticStats achievement.StatsSnapshot

func (s staticStats) GetStats(context.Context, string) (achievement.StatsSnapshot, error) {
	return achievement.StatsSnapshot(s), nil
}

func newTestServer(t *testing.T, health handlers.HealthChecker) *Server {
	t.Helper()

	store := memory.NewStore(achievement.DefaultDefinitions())
	eng, err := engine.New(engine.Dependencies{
		Ledger:       store,
		Leaderboard:  store,
		Catalog:      store,
		Unlocks:      store,
		Auditor:      store,
		BonusAuditor: store,
		Stats:        staticStats{ConnectionsCount: 10},
		Logger:       logger.Nop(),
	}, engine.DefaultOptions())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.APIKeys = []string{testAPIKey}

	return NewServer(cfg, Dependencies{Engine: eng, HealthChecker: health, Logger: logger.Nop()})
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func do(t *testing.T, s *Server, method, path, body string, authed bool) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("X-API-Key", testAPIKey)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_HealthFailingCheck(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("database", func(context.Context) error { return errors.New("down") })
	checker.AddCheck("redis", func(context.Context) error { return nil })
	s := newTestServer(t, checker)

	rec, _ := do(t, s, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, env := do(t, s, http.MethodGet, "/ready", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "database")
}

func TestServer_WriteRoutesRequireAPIKey(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/users/bob/points", `{"points":15,"reason":"accepted_connection"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/bob/points", strings.NewReader(`{"points":15,"reason":"x"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusUnauthorized, raw.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/admin/reconcile", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_AwardAndRead(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/users/bob/points", `{"points":15,"reason":"accepted_connection","reference_id":"conn-1"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	rec, env = do(t, s, http.MethodGet, "/api/v1/users/bob/points", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var up struct {
		Points int `json:"points"`
		Level  int `json:"level"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &up))
	assert.Equal(t, 15, up.Points)
	assert.Equal(t, 1, up.Level)

	rec, env = do(t, s, http.MethodGet, "/api/v1/users/bob/points/history?page=1&limit=5", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Transactions []struct {
			Reason string `json:"reason"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, "accepted_connection", hist.Transactions[0].Reason)

	rec, env = do(t, s, http.MethodGet, "/api/v1/users/bob/rank", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var rank struct {
		Rank int `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rank))
	assert.Equal(t, 1, rank.Rank)
}

func TestServer_ErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"zero amount", `{"points":0,"reason":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"bad kind", `{"points":5,"kind":"gifted","reason":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"points":5,"reason":"x","bonus":true}`, http.StatusBadRequest, "invalid_request"},
		{"overspend", `{"points":5,"kind":"spent","reason":"shop"}`, http.StatusConflict, "insufficient_points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, s, http.MethodPost, "/api/v1/users/bob/points", tt.body, true)
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestServer_ProducerEventEvaluatesAchievements(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/events", `{"reason":"accepted_connection","user_id":"alice","reference_id":"conn-7"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Award struct {
			Points int `json:"points"`
		} `json:"award"`
		Achievements struct {
			Unlocked []struct {
				ID string `json:"id"`
			} `json:"unlocked"`
		} `json:"achievements"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 15, res.Award.Points)
	require.Len(t, res.Achievements.Unlocked, 1)
	assert.Equal(t, "ach-social-butterfly", res.Achievements.Unlocked[0].ID)

	rec, env = do(t, s, http.MethodGet, "/api/v1/users/alice/points", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var up struct {
		Points int `json:"points"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &up))
	assert.Equal(t, 65, up.Points)

	rec, env = do(t, s, http.MethodGet, "/api/v1/users/alice/achievements", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var ach UserAchievementsResponse
	require.NoError(t, json.Unmarshal(env.Data, &ach))
	assert.Len(t, ach.Unlocked, 1)
	assert.Len(t, ach.Available, 3)
}

func TestServer_ProducerEventUnknownReason(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/events", `{"reason":"liked_post","user_id":"alice"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_request", env.Error.Code)
}

func TestServer_LeaderboardAndCatalog(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/users/carol/points", `{"points":40,"reason":"seed"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, s, http.MethodGet, "/api/v1/leaderboard?limit=5", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Entries []struct {
			UserID string `json:"user_id"`
			Rank   int    `json:"rank"`
		} `json:"entries"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	assert.Equal(t, 5, board.Limit)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "carol", board.Entries[0].UserID)

	rec, env = do(t, s, http.MethodGet, "/api/v1/achievements", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var defs []achievement.Definition
	require.NoError(t, json.Unmarshal(env.Data, &defs))
	assert.Len(t, defs, 4)
}

func TestServer_ReconcileClean(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/api/v1/admin/reconcile", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var report engine.ReconcileReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.False(t, report.HasIssues())
}

func TestServer_ReloadCatalog(t *testing.T) {
	s := newTestServer(t, nil)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/admin/catalog/reload", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := do(t, s, http.MethodPost, "/api/v1/admin/catalog/reload", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 4, body["definitions"])
}

func TestServer_UnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/api/v1/nope", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)
}
