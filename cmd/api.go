package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/ticketing/config"
	"example.com/ticketing/internal/api"
	"example.com/ticketing/internal/cache"
	"example.com/ticketing/internal/lifecycle"
	"example.com/ticketing/internal/messaging"
	"example.com/ticketing/internal/metrics"
	"example.com/ticketing/internal/models"
	"example.com/ticketing/internal/repositories"
	"example.com/ticketing/internal/search"
	"example.com/ticketing/internal/services"
	"example.com/ticketing/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that accepts reservation and payment requests and serves ticket reads`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit search")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize broker client
	broker, err := messaging.NewClient(cfg.Rabbit, metricsCollector)
	if err != nil {
		return err
	}
	defer broker.Close()

	// Initialize repositories and services
	ticketRepo := repositories.NewTicketRepository(db, readOnlyDB)
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	historyRepo := repositories.NewTicketHistoryRepository(db, readOnlyDB)

	machine := lifecycle.NewMachine(cfg.Payment.ReservationTTL)
	publisher := messaging.NewStatusPublisher(broker, redisCache, elasticClient)

	ticketService := services.NewTicketService(
		ticketRepo, eventRepo, historyRepo, machine, publisher, tracer, cfg.Payment.MaxRetryAttempts)
	relayService := services.NewRelayService(broker)

	// Initialize and start the server
	server := api.NewServer(cfg, ticketService, relayService, elasticClient, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// Initialize write database
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pools
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(time.Hour)

	return db, readOnlyDB, nil
}
