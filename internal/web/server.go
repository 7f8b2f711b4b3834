package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/spot_support_bot/internal/domain"
	"github.com/vitos/spot_support_bot/internal/metrics"
	"github.com/vitos/spot_support_bot/internal/usecase"
	"go.uber.org/zap"
)

// Server exposes the operational HTTP surface: status and audit reads,
// manual position closure, end-of-day simulation, engine start/stop, and
// Prometheus metrics.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	registry  *usecase.EngineRegistry
	positions domain.PositionRepository
	signals   domain.SignalRepository
	activity  domain.ActivityRepository
	config    domain.ConfigProvider
	accountID string
	logger    *zap.Logger
}

func NewServer(
	port int,
	registry *usecase.EngineRegistry,
	positions domain.PositionRepository,
	signals domain.SignalRepository,
	activity domain.ActivityRepository,
	config domain.ConfigProvider,
	accountID string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		registry:  registry,
		positions: positions,
		signals:   signals,
		activity:  activity,
		config:    config,
		accountID: accountID,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status and audit
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /positions", s.handleListPositions)
	s.router.HandleFunc("GET /signals", s.handleListSignals)
	s.router.HandleFunc("GET /activity", s.handleListActivity)

	// Configuration
	s.router.HandleFunc("GET /config", s.handleGetConfig)
	s.router.HandleFunc("PUT /config", s.handleUpdateConfig)

	// Engine control
	s.router.HandleFunc("POST /engine/start", s.handleEngineStart)
	s.router.HandleFunc("POST /engine/stop", s.handleEngineStop)
	s.router.HandleFunc("DELETE /engine", s.handleEngineRemove)

	// Manual interventions
	s.router.HandleFunc("POST /positions/{id}/close", s.handleClosePosition)
	s.router.HandleFunc("POST /eod/simulate", s.handleSimulateEOD)

	// Prometheus
	s.router.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
