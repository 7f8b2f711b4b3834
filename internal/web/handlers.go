package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

const defaultListLimit = 100

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	open, err := s.positions.ListOpenPositions(r.Context(), s.accountID)
	if err != nil {
		s.logger.Error("Failed to list open positions", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list open positions")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":     s.accountID,
		"engine_running": s.registry.Running(s.accountID),
		"open_positions": len(open),
		"time":           time.Now().UTC(),
	})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []*domain.Position
		err       error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		positions, err = s.positions.ListPositionsByStatus(r.Context(), s.accountID, domain.PositionStatus(status))
	} else {
		positions, err = s.positions.ListOpenPositions(r.Context(), s.accountID)
	}
	if err != nil {
		s.logger.Error("Failed to list positions", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	s.respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	signals, err := s.signals.ListSignals(r.Context(), s.accountID, listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list signals", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	s.respondJSON(w, http.StatusOK, signals)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	events, err := s.activity.ListEvents(r.Context(), s.accountID, listLimit(r))
	if err != nil {
		s.logger.Error("Failed to list activity", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.config.LoadConfig(r.Context(), s.accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no configuration for account")
			return
		}
		s.logger.Error("Failed to load config", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	s.respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.TradingConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid configuration payload")
		return
	}
	cfg.AccountID = s.accountID
	cfg.UpdatedAt = time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.config.SaveConfig(r.Context(), &cfg); err != nil {
		s.logger.Error("Failed to save config", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	// The engine re-reads configuration at the start of every cycle; no
	// restart is needed.
	s.respondJSON(w, http.StatusOK, &cfg)
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.StartEngine(r.Context(), s.accountID); err != nil {
		if errors.Is(err, domain.ErrConfigInactive) {
			s.respondError(w, http.StatusConflict, "configuration is inactive")
			return
		}
		s.logger.Error("Failed to start engine", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to start engine")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"running": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	s.registry.StopEngine(s.accountID)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

func (s *Server) handleEngineRemove(w http.ResponseWriter, r *http.Request) {
	s.registry.Remove(s.accountID)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"running": false, "removed": true})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "missing position id")
		return
	}

	if err := s.registry.ClosePosition(r.Context(), s.accountID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "position not found")
			return
		}
		if errors.Is(err, domain.ErrValidationRejected) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("Failed to close position",
			zap.Error(err),
			zap.String("position_id", id))
		s.respondError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	pos, err := s.positions.GetPosition(r.Context(), id)
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	s.respondJSON(w, http.StatusOK, pos)
}

func (s *Server) handleSimulateEOD(w http.ResponseWriter, r *http.Request) {
	forceProfit := r.URL.Query().Get("force_profit") == "true"
	if err := s.registry.SimulateEndOfDay(r.Context(), s.accountID, forceProfit); err != nil {
		s.logger.Error("End-of-day simulation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "end-of-day simulation failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"simulated":    true,
		"force_profit": forceProfit,
	})
}
