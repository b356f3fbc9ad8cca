package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"bulk-import-service/internal/config"
	"bulk-import-service/internal/events"
	"bulk-import-service/internal/handlers"
	"bulk-import-service/internal/importer"
	"bulk-import-service/internal/jobs"
	"bulk-import-service/internal/middleware"
	"bulk-import-service/internal/models"
	"bulk-import-service/internal/repository"

	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/tracing"
)

// @title Bulk Import API
// @version 1.0.0
// @description Bulk customer and purchase import service for Tesseract Hub
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8113
// @BasePath /api/v1

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.ImportBatch{},
		&models.ImportStepResult{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	refRepo := repository.NewReferenceRepository(db)
	commitRepo := repository.NewCommitRepository(db)

	// Initialize event publisher
	publisher, err := events.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer publisher.Close()
	logger.Info("Event publisher initialized")

	// Initialize the workflow engine and start consuming import triggers
	engine := importer.NewEngine(batchRepo, refRepo, commitRepo, logger, cfg.MaxValidationErrors)

	subCtx, subCancel := context.WithCancel(context.Background())
	subscriber := events.NewImportSubscriber(publisher, engine, batchRepo, cfg.WorkflowTimeout, logger)
	if err := subscriber.Start(subCtx); err != nil {
		logger.Fatalf("Failed to start import subscriber: %v", err)
	}

	// Start stuck batch job
	stuckJob := jobs.NewStuckBatchJob(batchRepo, publisher, 2*cfg.WorkflowTimeout, logger)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go stuckJob.Start(jobCtx)

	// Initialize OpenTelemetry tracing
	var tracerProvider *tracing.TracerProvider
	var tracerErr error
	if cfg.Environment == "production" {
		tracerProvider, tracerErr = tracing.InitTracer(tracing.ProductionConfig("bulk-import-service"))
	} else {
		tracerProvider, tracerErr = tracing.InitTracer(tracing.DefaultConfig("bulk-import-service"))
	}
	if tracerErr != nil {
		logger.Warnf("Failed to initialize tracing: %v (continuing without tracing)", tracerErr)
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	// Initialize Prometheus metrics
	metrics := gosharedmw.InitGlobalMetrics("tesseract", "bulk_import_service")

	// Initialize handlers
	importHandler := handlers.NewImportHandler(batchRepo, publisher, cfg.MaxUploadSizeMB, logger)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(tracing.GinMiddleware("bulk-import-service"))

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)
	router.GET("/metrics", gosharedmw.Handler())

	// Protected API routes
	api := router.Group("/api/v1")

	// Authentication middleware using Istio JWT claims
	// Istio validates JWT and injects x-jwt-claim-* headers
	api.Use(gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
		RequireAuth:        true,
		AllowLegacyHeaders: false,
		SkipPaths:          []string{"/health", "/ready", "/metrics", "/swagger"},
	}))
	api.Use(middleware.MerchantMiddleware())

	// Import endpoints
	{
		api.POST("/imports/customers", importHandler.UploadCustomers)
		api.POST("/imports/purchases", importHandler.UploadPurchases)
		api.GET("/imports", importHandler.ListBatches)
		api.GET("/imports/customers/template", importHandler.GetCustomerImportTemplate)
		api.GET("/imports/purchases/template", importHandler.GetPurchaseImportTemplate)
		api.GET("/imports/:id", importHandler.GetBatch)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8113"
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Bulk import service starting on port %s", port)
		if err := router.Run(":" + port); err != nil {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("Shutting down server...")

	// Stop background work; in-flight workflows resume from recorded steps
	// on redelivery.
	subCancel()
	jobCancel()
	stuckJob.Stop()

	logger.Info("Server shutdown complete")
}
