package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpvl/dues-server/internal/api"
	"github.com/cpvl/dues-server/internal/config"
	"github.com/cpvl/dues-server/internal/events"
	"github.com/cpvl/dues-server/internal/metrics"
	"github.com/cpvl/dues-server/internal/repository"
	"github.com/cpvl/dues-server/internal/service"
	"github.com/cpvl/dues-server/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Validate already parsed these
	pricing, _ := cfg.Pricing()
	loc, _ := cfg.Location()

	// Create repository
	var repo repository.Repository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using the in-memory repository, data is lost on restart")
		repo = repository.NewMemoryRepository()
	default:
		db, err := config.SetupDatabase(cfg)
		if err != nil {
			return fmt.Errorf("set up database: %w", err)
		}
		defer db.Close()
		repo = repository.NewPostgresRepository(db)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("set up event publisher: %w", err)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	metrics.Init()

	// Create service
	svc := service.NewDefaultService(repo, service.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL,
		IsAdminEmail: cfg.IsAdminEmail,
		Pricing:      pricing,
		StartYear:    cfg.Dues.StartYear,
		Location:     loc,
		Merchant:     cfg.Merchant(),
		QRSize:       cfg.Pix.QRSize,
		Publisher:    publisher,
		Logger:       logger,
	})

	// Create API handler
	handler := api.NewHandler(svc, logger, loc)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger), api.JWTSecretMiddleware(cfg.Auth.JWTSecret))
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
