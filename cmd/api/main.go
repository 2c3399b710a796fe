package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-identity-nosql/internal/infrastructure/jwt"
	"github.com/go-identity-nosql/internal/infrastructure/memstore"
	s3infra "github.com/go-identity-nosql/internal/infrastructure/s3"
	"github.com/go-identity-nosql/internal/infrastructure/smtp"
	"github.com/go-identity-nosql/internal/infrastructure/sns"
	"github.com/go-identity-nosql/internal/metrics"
	"github.com/go-identity-nosql/internal/pkg/logging"
	"github.com/go-identity-nosql/internal/store"
	transporthttp "github.com/go-identity-nosql/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Development())
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}

	ctx := context.Background()

	recordStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("record store unavailable", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}

	// JWT provider (optional, authenticated routes reject everything without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		slog.Warn("JWT provider not available", "err", err)
	}

	// SNS SMS sender (optional).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(ctx, cfg); err == nil {
		smsSender = sender
	} else {
		slog.Warn("SNS sender not available", "err", err)
	}

	deps := &transporthttp.Deps{
		Store:          recordStore,
		Mailer:         smtp.NewMailer(cfg),
		SMSSender:      smsSender,
		JWTProvider:    jwtProvider,
		Metrics:        metrics.New(prometheus.DefaultRegisterer),
		MetricsHandler: promhttp.Handler(),
	}

	// Merge audit archive (optional).
	if cfg.AuditBucket != "" {
		if client, err := s3infra.NewClient(ctx, cfg); err == nil {
			deps.Archive = s3infra.NewAuditArchive(client, cfg.AuditBucket)
		} else {
			slog.Warn("S3 audit archive not available", "err", err)
		}
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore returns the configured record store. The DynamoDB backend creates
// its tables on first start.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("using in-memory record store; data is lost on restart")
		return memstore.New(), nil
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewDocumentStore(client, cfg.DynamoTables), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
