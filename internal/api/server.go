package api

import (
	"context"
	"net/http"
	"time"

	"example.com/ticketing/config"
	"example.com/ticketing/internal/api/handlers"
	"example.com/ticketing/internal/metrics"
	"example.com/ticketing/internal/search"
	"example.com/ticketing/internal/services"
	"example.com/ticketing/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config        config.Config
	router        *gin.Engine
	httpServer    *http.Server
	ticketService *services.TicketService
	relayService  *services.RelayService
	audit         *search.ElasticClient
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	ticketService *services.TicketService,
	relayService *services.RelayService,
	audit *search.ElasticClient,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:        cfg,
		ticketService: ticketService,
		relayService:  relayService,
		audit:         audit,
		metrics:       m,
		tracer:        tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	ticketHandler := handlers.NewTicketHandler(s.ticketService, s.relayService, s.audit, s.tracer)
	ticketHandler.RegisterRoutes(router)

	paymentHandler := handlers.NewPaymentHandler(s.relayService, s.tracer)
	paymentHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
