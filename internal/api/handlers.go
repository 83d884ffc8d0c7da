package api

import (
	"context"
	"net/http"
	"time"

	"github.com/triagewatch/triagewatch/internal/errors"
)

// maxSnapshotDays caps the snapshot query at the retention window
const maxSnapshotDays = 14

// handleStatus godoc
// @Summary Get orchestrator status
// @Description Returns the cycle state, pause flag, retry loop state and monitored components
// @Tags status
// @Produce json
// @Success 200 {object} scheduler.Status
// @Security BearerAuth
// @Router /status [get]
func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.orchestrator.Status(r.Context()))
}

// handleGetDigest godoc
// @Summary Get the weekly digest
// @Description Returns the most recent weekly digest, generating one if none is cached
// @Tags digest
// @Produce json
// @Success 200 {object} digest.Digest
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /digest [get]
func (s *APIServer) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if cached, ok := s.digests.Cached(); ok {
		s.respondJSON(w, http.StatusOK, cached)
		return
	}

	d, err := s.digests.Generate(r.Context())
	if err != nil {
		s.logger.Error("digest generation failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to generate digest")
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleSnapshots godoc
// @Summary List daily snapshots
// @Description Returns the last N daily snapshots, oldest first; days with no recorded check are zero aggregates
// @Tags snapshots
// @Produce json
// @Param days query int false "Number of days (default 14, max 14)"
// @Success 200 {array} statestore.DailySnapshot
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /snapshots [get]
func (s *APIServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	days := parseQueryParamInt(r, "days", maxSnapshotDays)
	if days < 1 || days > maxSnapshotDays {
		days = maxSnapshotDays
	}

	now := time.Now()
	dates := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		dates = append(dates, now.AddDate(0, 0, -i).Format("2006-01-02"))
	}

	snapshots, err := s.stateStore.GetSnapshots(r.Context(), dates)
	if err != nil {
		s.logger.Error("snapshot query failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to query snapshots")
		return
	}
	s.respondJSON(w, http.StatusOK, snapshots)
}

// handleOverdue godoc
// @Summary Fetch overdue triage items
// @Description Runs the saved overdue-item query on demand and returns the classified records
// @Tags overdue
// @Produce json
// @Success 200 {array} triage.Defect
// @Failure 502 {object} map[string]string
// @Security BearerAuth
// @Router /overdue [get]
func (s *APIServer) handleOverdue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	overdue, err := s.orchestrator.Overdue(r.Context())
	if err != nil {
		s.logger.Error("overdue fetch failed", "error", err.Error())
		if errors.IsAuthRequired(err) {
			s.respondError(w, http.StatusBadGateway, "upstream session is not authenticated")
			return
		}
		s.respondError(w, http.StatusBadGateway, "failed to fetch overdue items")
		return
	}
	s.respondJSON(w, http.StatusOK, overdue)
}

// handleCheck godoc
// @Summary Trigger a full check cycle
// @Description Starts a forced defect check cycle in the background
// @Tags check
// @Produce json
// @Success 202 {object} map[string]string
// @Security BearerAuth
// @Router /check [post]
func (s *APIServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The cycle can outlive the request; run it detached.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.orchestrator.RunFullCycle(ctx, true, false); err != nil {
			s.logger.Error("manual check failed", "error", err.Error())
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "check started"})
}

// handleReloadSchedule godoc
// @Summary Reload the schedule
// @Description Re-reads the watch file and reinstalls the daily and weekly triggers
// @Tags schedule
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /schedule/reload [post]
func (s *APIServer) handleReloadSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.orchestrator.ReloadSchedule(r.Context()); err != nil {
		s.logger.Error("schedule reload failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to reload schedule")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "schedule reloaded"})
}

// handlePause godoc
// @Summary Pause monitoring
// @Description Disables the daily and weekly triggers until resumed
// @Tags schedule
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /pause [post]
func (s *APIServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.orchestrator.Pause(r.Context()); err != nil {
		s.logger.Error("pause failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to pause")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// handleResume godoc
// @Summary Resume monitoring
// @Description Recreates the daily and weekly triggers from current configuration
// @Tags schedule
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /resume [post]
func (s *APIServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.orchestrator.Resume(r.Context()); err != nil {
		s.logger.Error("resume failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to resume")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleRegenerateDigest godoc
// @Summary Regenerate the weekly digest
// @Description Regenerates the digest, or returns the cached one when throttled
// @Tags digest
// @Produce json
// @Success 200 {object} digest.Digest
// @Failure 500 {object} map[string]string
// @Security BearerAuth
// @Router /digest/regenerate [post]
func (s *APIServer) handleRegenerateDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	d, err := s.digests.Generate(r.Context())
	if err != nil {
		s.logger.Error("digest regeneration failed", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to regenerate digest")
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// handleSweep godoc
// @Summary Run an all-components sweep
// @Description Fetches and classifies every monitored component without notifying or writing a snapshot
// @Tags sweep
// @Produce json
// @Success 200 {object} triage.Aggregate
// @Failure 502 {object} map[string]string
// @Security BearerAuth
// @Router /sweep [post]
func (s *APIServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	agg, err := s.orchestrator.Sweep(r.Context())
	if err != nil {
		s.logger.Error("sweep failed", "error", err.Error())
		if errors.IsAuthRequired(err) {
			s.respondError(w, http.StatusBadGateway, "upstream session is not authenticated")
			return
		}
		s.respondError(w, http.StatusBadGateway, "failed to run sweep")
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}
