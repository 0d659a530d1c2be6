package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/campushub/campus-hub/internal/application/command"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/internal/interface/http/handlers"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Campus Hub Points Engine",
		"version": "v1",
		"endpoints": map[string]string{
			"health":       "/health",
			"leaderboard":  "/api/v1/leaderboard",
			"achievements": "/api/v1/achievements",
			"user_points":  "/api/v1/users/{id}/points",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status": handlers.StatusOK,
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// POINTS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetUserPoints handles GET /api/v1/users/{id}/points
func (s *Server) handleGetUserPoints(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.GetUserPoints(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetPointsHistory handles GET /api/v1/users/{id}/points/history
func (s *Server) handleGetPointsHistory(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.GetPointsHistory(r.Context(),
		mux.Vars(r)["id"],
		getQueryParamInt(r, "page", 1),
		getQueryParamInt(r, "limit", points.DefaultPageLimit),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// PointsRequest is the body of POST /api/v1/users/{id}/points.
type PointsRequest struct {
	Points      int         `json:"points"`
	Kind        points.Kind `json:"kind"`
	Reason      string      `json:"reason"`
	ReferenceID string      `json:"reference_id"`
}

// handlePostPoints handles POST /api/v1/users/{id}/points
func (s *Server) handlePostPoints(w http.ResponseWriter, r *http.Request) {
	var req PointsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, shared.WrapError("http", "DecodePoints", shared.ErrInvalidInput, "malformed request body", err))
		return
	}

	userID := mux.Vars(r)["id"]

	var (
		res *command.AwardPointsResult
		err error
	)
	switch req.Kind {
	case "", points.KindEarned:
		res, err = s.deps.Engine.AwardPoints(r.Context(), userID, req.Points, req.Reason, req.ReferenceID)
	case points.KindSpent:
		res, err = s.deps.Engine.SpendPoints(r.Context(), userID, req.Points, req.Reason, req.ReferenceID)
	default:
		err = shared.ErrInvalidKind
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

// handleProducerEvent handles POST /api/v1/events
func (s *Server) handleProducerEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.producer.Handle(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.GetLeaderboard(r.Context(), getQueryParamInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetRank handles GET /api/v1/users/{id}/rank
func (s *Server) handleGetRank(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.GetRank(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListCatalog handles GET /api/v1/achievements
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Engine.ListCatalog(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, defs)
}

// UserAchievementsResponse is the body of GET /api/v1/users/{id}/achievements.
type UserAchievementsResponse struct {
	Unlocked  []achievement.UnlockedAchievement `json:"unlocked"`
	Available []achievement.Definition          `json:"available"`
}

// handleListUserAchievements handles GET /api/v1/users/{id}/achievements
func (s *Server) handleListUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	unlocked, err := s.deps.Engine.ListUnlockedAchievements(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	available, err := s.deps.Engine.ListAvailableAchievements(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, UserAchievementsResponse{Unlocked: unlocked, Available: available})
}

// handleEvaluateAchievements handles POST /api/v1/users/{id}/achievements/evaluate
func (s *Server) handleEvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.EvaluateAchievements(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleReconcile handles GET /api/v1/admin/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Engine.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleReloadCatalog handles POST /api/v1/admin/catalog/reload
func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Engine.ReloadCatalog(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"definitions": n})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		return
	}

	switch code := shared.Classify(err); code {
	case shared.CodeUnknownUser:
		writeJSONError(w, r, http.StatusNotFound, string(code), err.Error())
	case shared.CodeConflict:
		status := "conflict"
		if errors.Is(err, shared.ErrInsufficientPoints) {
			status = "insufficient_points"
		}
		writeJSONError(w, r, http.StatusConflict, status, err.Error())
	case shared.CodeInvalid:
		writeJSONError(w, r, http.StatusBadRequest, string(code), err.Error())
	case shared.CodeUnavailable:
		logger.FromContext(r.Context()).Warn("dependency unavailable", logger.Err(err))
		writeJSONError(w, r, http.StatusServiceUnavailable, string(code), "A dependency is unavailable, try again later")
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, string(code), "Internal error")
	}
}
