package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/adforge/internal/api"
	"github.com/timmy/adforge/internal/config"
	"github.com/timmy/adforge/internal/jobservice"
	"github.com/timmy/adforge/internal/logger"
	"github.com/timmy/adforge/internal/repository"
	"github.com/timmy/adforge/internal/service"
	"github.com/timmy/adforge/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: error=%v", err)
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			logger.Fatal("Failed to run migrations: error=%v", err)
		}
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db)
	conceptRepo := repository.NewConceptRepository(db)
	recipeRepo := repository.NewRecipeRepository(db)
	productRepo := repository.NewProductRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)

	// Initialize the optional creative snapshot archive
	var archive storage.CreativeArchive
	if cfg.Storage.SnapshotEnabled {
		s3Archive, err := storage.NewS3Archive(&storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize creative archive: error=%v", err)
		}
		if err := s3Archive.EnsureBucket(context.Background()); err != nil {
			logger.Fatal("Failed to ensure archive bucket: error=%v", err)
		}
		archive = s3Archive
	}

	// Initialize the external job service client
	jobClient := jobservice.NewClient(&jobservice.Config{
		BaseURL:           cfg.JobService.BaseURL,
		APIKey:            cfg.JobService.APIKey,
		SubmitTimeout:     cfg.JobService.SubmitTimeout,
		StreamIdleTimeout: cfg.JobService.StreamIdleTimeout,
	})

	// Initialize services
	registry := service.NewTaskRegistry(taskRepo)
	store := service.NewStoreAdapter(conceptRepo, recipeRepo)
	relay := service.NewStreamRelay(jobClient, registry, store)
	reconciler := service.NewReconciler(registry, relay, jobClient)

	conceptService := service.NewConceptService(jobClient, workflowRepo, conceptRepo, store, registry, relay, archive)
	recipeService := service.NewRecipeService(jobClient, productRepo, recipeRepo, store, registry, relay)
	productService := service.NewProductService(productRepo)
	workflowService := service.NewWorkflowService(workflowRepo)

	// Resume in-flight tasks from before the last shutdown
	if resumed, err := reconciler.ResumePending(context.Background()); err != nil {
		logger.Error("Startup reconciliation failed: resumed=%d, error=%v", resumed, err)
	}

	// Setup router
	router := api.SetupRouter(&cfg.Server, appLogger, &api.Services{
		Concepts:   conceptService,
		Recipes:    recipeService,
		Products:   productService,
		Workflows:  workflowService,
		Relay:      relay,
		Reconciler: reconciler,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: error=%v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop upstream subscriptions first; in-flight tasks resume on next boot.
	relay.Shutdown()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown: error=%v", err)
	}

	logger.Info("Server exited")
}
