package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/ticketing/config"
	"example.com/ticketing/internal/cache"
	"example.com/ticketing/internal/events"
	"example.com/ticketing/internal/lifecycle"
	"example.com/ticketing/internal/messaging"
	"example.com/ticketing/internal/metrics"
	"example.com/ticketing/internal/repositories"
	"example.com/ticketing/internal/search"
	"example.com/ticketing/internal/services"
	"example.com/ticketing/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that consumes reservation and payment outcome events and sweeps expired reservations`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

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
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit indexing")
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
	paymentRepo := repositories.NewPaymentRepository(db, readOnlyDB)
	eventRepo := repositories.NewEventRepository(db, readOnlyDB)
	historyRepo := repositories.NewTicketHistoryRepository(db, readOnlyDB)

	machine := lifecycle.NewMachine(cfg.Payment.ReservationTTL)
	publisher := messaging.NewStatusPublisher(broker, redisCache, elasticClient)

	ticketService := services.NewTicketService(
		ticketRepo, eventRepo, historyRepo, machine, publisher, tracer, cfg.Payment.MaxRetryAttempts)
	reconcileService := services.NewReconcileService(
		ticketRepo, paymentRepo, machine, publisher, tracer,
		cfg.Payment.MaxRetryAttempts, cfg.Payment.RetryDelay)

	// Route each queue to its handler
	dispatcher := messaging.NewDispatcher(
		messaging.NewReservationHandler(ticketService),
		messaging.NewApprovedPaymentHandler(reconcileService),
		messaging.NewRejectedPaymentHandler(reconcileService),
	)

	// One consumer per queue
	for _, queue := range []string{
		events.RoutingKeyTicketReserved,
		events.RoutingKeyPaymentApproved,
		events.RoutingKeyPaymentRejected,
	} {
		queue := queue
		g.Go(func() error {
			return broker.Consume(ctx, queue, dispatcher)
		})
	}

	// Expired reservation sweep as a fallback for reservations whose payment
	// outcome never arrived
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Payment.SweepInterval).Msg("Starting expired reservation sweep")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Payment.SweepInterval),
			gocron.NewTask(func() {
				if _, err := ticketService.ReleaseExpired(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to sweep expired reservations")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
