// Package main запускает HTTP-сервер сервиса MediMind.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/VanshSharma88/medimind/internal/config"
	"github.com/VanshSharma88/medimind/internal/events"
	"github.com/VanshSharma88/medimind/internal/handler"
	"github.com/VanshSharma88/medimind/internal/middleware"
	"github.com/VanshSharma88/medimind/internal/repository"
	"github.com/VanshSharma88/medimind/internal/service"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// openRepository выбирает хранилище: PostgreSQL, затем MongoDB, иначе память.
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Repository, error) {
	switch {
	case cfg.DatabaseURI != "":
		logger.Info("using postgres storage")
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	case cfg.MongoURI != "":
		logger.Info("using mongo storage", zap.String("database", cfg.MongoDatabase))
		return repository.NewMongoRepository(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		logger.Warn("no database configured, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}
}

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(ctx, 15*time.Second)
	repo, err := openRepository(initCtx, cfg, logger)
	cancelInit()
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var publisher service.SalePublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("events"))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		sugar.Infow("publishing sale events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	svc := service.NewService(repo, logger.Named("service"), publisher)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set, tokens will not survive restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting medimind server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
