package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rxledger/pharmacy-backend/internal/purchase/events"
	"github.com/rxledger/pharmacy-backend/internal/purchase/handler"
	"github.com/rxledger/pharmacy-backend/internal/purchase/repository"
	"github.com/rxledger/pharmacy-backend/internal/purchase/service"
	"github.com/rxledger/pharmacy-backend/pkg/config"
	"github.com/rxledger/pharmacy-backend/pkg/database"
	"github.com/rxledger/pharmacy-backend/pkg/httputil"
	"github.com/rxledger/pharmacy-backend/pkg/logger"
	"github.com/rxledger/pharmacy-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("pharmacy-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("pharmacy-service", cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewPurchasePublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	medicineRepo := repository.NewMedicineRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	pharmacyRepo := repository.NewPharmacyRepository(db)

	// Initialize engines
	updateEngine := service.NewUpdateEngine(itemRepo, medicineRepo, inventoryRepo, transactionRepo, purchaseRepo, publisher, log)
	deleteEngine := service.NewDeleteEngine(itemRepo, medicineRepo, inventoryRepo, transactionRepo, purchaseRepo, publisher, log)
	cleanupEngine := service.NewCleanupEngine(deleteEngine, itemRepo, inventoryRepo, transactionRepo, pharmacyRepo, publisher, cfg.Retention.Years, log)

	// Initialize handlers
	itemHandler := handler.NewItemHandler(updateEngine, deleteEngine, log)
	cleanupHandler := handler.NewCleanupHandler(cleanupEngine, cfg.Retention.DryRun, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the yearly cleanup driver unless mutations are disabled
	var scheduler *service.CleanupScheduler
	if !cfg.Retention.DryRun {
		scheduler = service.NewCleanupScheduler(cleanupEngine, pharmacyRepo, cfg.Retention.CheckInterval, log)
		scheduler.Start(ctx)
	} else {
		log.Warn().Msg("retention dry-run enabled, scheduled cleanup disabled")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "pharmacy-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/purchases/items", func(r chi.Router) {
			r.Put("/{id}", itemHandler.Update)
			r.Delete("/{ids}", itemHandler.Delete)
		})

		r.Route("/cleanup", func(r chi.Router) {
			r.Post("/run", cleanupHandler.Run)
			r.Get("/preview", cleanupHandler.Preview)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop the scheduler
	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
