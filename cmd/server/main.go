package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus88/soulbound-signature/internal/api"
	"github.com/prometheus88/soulbound-signature/internal/config"
	"github.com/prometheus88/soulbound-signature/internal/db"
	"github.com/prometheus88/soulbound-signature/internal/identity"
	"github.com/prometheus88/soulbound-signature/internal/payment"
	"github.com/prometheus88/soulbound-signature/internal/render"
	"github.com/prometheus88/soulbound-signature/internal/services"
	"github.com/prometheus88/soulbound-signature/pkg/logger"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	var cfg *config.Configuration
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(cfg, zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()
	oracle := identity.NewHTTPOracle(cfg.Identity.OracleURL)
	facilitator := payment.NewFacilitatorClient(cfg.Payment.FacilitatorURL)
	renderer := render.NewPDFRenderer(zapLogger)

	documentService := services.NewDocumentService(database, renderer, cfg.Server.BaseURL, zapLogger, metricsCollector)
	signingService := services.NewSigningService(database, oracle, documentService, zapLogger, metricsCollector)

	router := api.NewRouter(cfg, zapLogger, metricsCollector, documentService, signingService, oracle, facilitator)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	if sqlDB, err := database.DB(); err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}
