package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS
// ══════════════════════════════════════════════════════════════════════════════

type healthStatus struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// handleHealth pings every backing store and reports per-check status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if s.deps.Postgres != nil {
		if err := s.deps.Postgres.Ping(ctx); err != nil {
			checks["postgres"] = "down: " + err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx); err != nil {
			// The engine works without Redis, just slower.
			checks["redis"] = "degraded: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}

	writeJSON(w, r, status, healthStatus{
		Status: statusText,
		Uptime: s.Uptime().Round(time.Second).String(),
		Checks: checks,
	})
}

// handleReady reports whether the service can serve traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()

	if s.deps.Postgres != nil {
		if err := s.deps.Postgres.Ping(ctx); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is the liveness probe: process is up.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"service": "trainbot"})
}

// ══════════════════════════════════════════════════════════════════════════════
// API HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type leaderboardEntryDTO struct {
	Rank           int     `json:"rank"`
	UserID         int64   `json:"user_id"`
	CompletedUnits int     `json:"completed_units"`
	TotalScore     float64 `json:"total_score"`
	LastAttempt    string  `json:"last_attempt"`
}

// handleGetLeaderboard serves the ranked projection. Optional query
// parameters: limit (entry count) and since (RFC 3339 window start).
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := getQueryParamInt(r, "limit", s.config.DefaultLeaderboardSize)
	if limit < 1 || limit > 100 {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_since", "since must be RFC 3339")
			return
		}
		since = parsed
	}

	entries, err := s.deps.Facade.TopUsers(r.Context(), limit, since)
	if err != nil {
		s.logger.Error("leaderboard query failed", logger.Err(err))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Leaderboard is temporarily unavailable")
		return
	}

	dtos := make([]leaderboardEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, leaderboardEntryDTO{
			Rank:           e.Rank,
			UserID:         int64(e.User),
			CompletedUnits: e.CompletedUnits,
			TotalScore:     e.TotalScore,
			LastAttempt:    e.LastAttempt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, r, http.StatusOK, dtos)
}

type quotaDTO struct {
	UserID     int64  `json:"user_id"`
	Capability string `json:"capability"`
	Remaining  int    `json:"remaining"`
}

// handleGetQuota reports the remaining allowance for one capability without
// consuming anything.
func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	capability := quota.Capability(r.URL.Query().Get("capability"))
	if capability == "" {
		capability = quota.CapabilityTextGeneration
	}

	remaining, err := s.deps.Facade.Remaining(r.Context(), quota.UserID(userID), capability, time.Now())
	if err != nil {
		if errors.Is(err, quota.ErrInvalidCapability) {
			writeJSONError(w, http.StatusBadRequest, "invalid_capability", "Unknown capability")
			return
		}
		s.logger.Error("quota read failed", logger.Err(err), logger.UserID(userID))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Quota is temporarily unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, quotaDTO{
		UserID:     userID,
		Capability: capability.String(),
		Remaining:  remaining,
	})
}

type progressDTO struct {
	UserID       int64   `json:"user_id"`
	UnitID       int64   `json:"unit_id"`
	BestScore    float64 `json:"best_score"`
	Completed    bool    `json:"completed"`
	AttemptCount int     `json:"attempt_count"`
	LastAttempt  string  `json:"last_attempt"`
}

// handleGetProgress returns the committed record for one (user, unit) pair.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	unitID, ok := pathInt64(w, r, "unit")
	if !ok {
		return
	}

	rec, err := s.deps.Facade.Progress(r.Context(), quota.UserID(userID), progress.UnitID(unitID))
	if err != nil {
		if errors.Is(err, progress.ErrRecordNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "No attempt recorded for this unit")
			return
		}
		s.logger.Error("progress read failed", logger.Err(err), logger.UserID(userID))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Progress is temporarily unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, progressDTO{
		UserID:       int64(rec.User),
		UnitID:       int64(rec.Unit),
		BestScore:    rec.BestScore,
		Completed:    rec.Completed,
		AttemptCount: rec.AttemptCount,
		LastAttempt:  rec.LastAttempt.UTC().Format(time.RFC3339),
	})
}

type rankDTO struct {
	UserID int64 `json:"user_id"`
	Rank   int   `json:"rank"`
}

// handleGetRank returns the user's current leaderboard standing; rank 0
// means the user has no progress rows yet.
func (s *Server) handleGetRank(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	rank, err := s.deps.Ranker.UserRank(r.Context(), userID)
	if err != nil {
		s.logger.Error("rank read failed", logger.Err(err), logger.UserID(userID))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Rank is temporarily unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, rankDTO{UserID: userID, Rank: rank})
}

type summaryDTO struct {
	UserID         int64 `json:"user_id"`
	AttemptedUnits int   `json:"attempted_units"`
	CompletedUnits int   `json:"completed_units"`
}

// handleGetSummary returns attempted and completed unit totals for a user.
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	attempted, completed, err := s.deps.Summary.CountByUser(r.Context(), quota.UserID(userID))
	if err != nil {
		s.logger.Error("summary read failed", logger.Err(err), logger.UserID(userID))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Summary is temporarily unavailable")
		return
	}

	writeJSON(w, r, http.StatusOK, summaryDTO{
		UserID:         userID,
		AttemptedUnits: attempted,
		CompletedUnits: completed,
	})
}

type quotaEventDTO struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	PeriodID   string `json:"period_id"`
	Delta      int    `json:"delta"`
	RecordedAt string `json:"recorded_at"`
}

// handleGetQuotaEvents returns the most recent ledger audit events for a
// user, newest first.
func (s *Server) handleGetQuotaEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	limit := getQueryParamInt(r, "limit", 20)
	if limit < 1 || limit > 200 {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
		return
	}

	events, err := s.deps.Auditor.Events(r.Context(), quota.UserID(userID), limit)
	if err != nil {
		s.logger.Error("audit read failed", logger.Err(err), logger.UserID(userID))
		writeJSONError(w, http.StatusServiceUnavailable, "storage_unavailable", "Audit trail is temporarily unavailable")
		return
	}

	dtos := make([]quotaEventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, quotaEventDTO{
			ID:         ev.ID,
			Capability: ev.Capability.String(),
			PeriodID:   string(ev.Period),
			Delta:      ev.Delta,
			RecordedAt: ev.RecordedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, r, http.StatusOK, dtos)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "Path segment must be a positive integer")
		return 0, false
	}
	return id, true
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
