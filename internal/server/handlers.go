package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dfpersonal/cash-management/internal/modules/allocation"
	"github.com/dfpersonal/cash-management/internal/modules/planning"
	"github.com/dfpersonal/cash-management/internal/modules/settings"
)

// runCache keeps the most recent run result in memory so alert and
// latest-run queries do not re-run the engine.
type runCache struct {
	mu     sync.RWMutex
	result *planning.RunResult
}

func (c *runCache) set(result *planning.RunResult) {
	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
}

func (c *runCache) get() *planning.RunResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleOptimize runs the engine. POST /api/optimize?mode=dynamic
// Mode defaults to the configured default strategy. Runs are serialized:
// concurrent requests queue behind the in-flight run.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = s.cfg.DefaultMode
	}

	s.runMu.Lock()
	result, err := s.planner.Run(mode)
	s.runMu.Unlock()
	if err != nil {
		var cfgErr *settings.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			s.writeError(w, http.StatusUnprocessableEntity, err)
		case isUnknownStrategy(mode):
			s.writeError(w, http.StatusBadRequest, err)
		default:
			s.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.lastRun.set(result)
	s.writeJSON(w, http.StatusOK, result)
}

func isUnknownStrategy(mode string) bool {
	return mode != allocation.StrategyDynamic && mode != allocation.StrategySinglePass
}

// handleLatestRun returns the most recent run of this process.
// GET /api/optimize/latest
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	result := s.lastRun.get()
	if result == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no optimization run yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleComplianceReport runs the read-only audit.
// GET /api/compliance/report?include_pending=true
func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	includePending := r.URL.Query().Get("include_pending") != "false"

	report, err := s.planner.ComplianceReport(includePending)
	if err != nil {
		var cfgErr *settings.ConfigError
		if errors.As(err, &cfgErr) {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleRecommendations lists persisted recommendations.
// GET /api/recommendations?status=pending
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	stored, err := s.recs.List(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":           len(stored),
		"recommendations": stored,
	})
}

// handleMissingFRNAlerts serves the latest run's missing-identifier
// alert list. GET /api/alerts/missing-frn
func (s *Server) handleMissingFRNAlerts(w http.ResponseWriter, r *http.Request) {
	result := s.lastRun.get()
	if result == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no optimization run yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": result.RunID,
		"count":  len(result.Alerts),
		"alerts": result.Alerts,
	})
}

// handleLatestSnapshot serves the newest persisted run snapshot.
// GET /api/snapshots/latest
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snaps.Latest()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshots stored"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleHealth checks every database. GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	databases := map[string]string{}
	code := http.StatusOK
	for name, db := range map[string]interface {
		HealthCheck(context.Context) error
	}{
		"portfolio": s.portfolioDB,
		"config":    s.configDB,
		"cache":     s.cacheDB,
	} {
		if err := db.HealthCheck(ctx); err != nil {
			databases[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			databases[name] = "ok"
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"databases": databases,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
