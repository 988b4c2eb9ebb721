package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fluency-push-go/internal/config"
	"fluency-push-go/internal/dispatch"
	"fluency-push-go/internal/handlers"
	"fluency-push-go/internal/logger"
	"fluency-push-go/internal/metrics"
	"fluency-push-go/internal/store"
	"fluency-push-go/internal/webpush"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logg.Sync()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// VAPID keys must be provisioned; generate them with cmd/vapidkeys
	keys, err := cfg.VAPIDKeyPair()
	if err != nil {
		logg.Fatal("VAPID keys not configured", zap.Error(err))
	}
	signer, err := webpush.NewSigner(keys, cfg.VAPIDSubject, cfg.VAPIDTokenTTL, nil)
	if err != nil {
		logg.Fatal("Invalid VAPID configuration", zap.Error(err))
	}
	encryptor, err := webpush.NewEncryptor(nil, cfg.EncryptOptions())
	if err != nil {
		logg.Fatal("Invalid push options", zap.Error(err))
	}

	var (
		subs   store.SubscriptionStore
		events *store.RedisStore
	)
	if cfg.Events {
		events = store.NewRedisStore(cfg.Redis.Options())
		defer events.Close()
		if err := events.Ping(ctx); err != nil {
			logg.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		subs = events
		logg.Info("Using Redis subscription store", zap.String("addr", cfg.Redis.Addr))
	default:
		pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logg.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pgStore.Close()
		if err := pgStore.RunMigrations(ctx); err != nil {
			logg.Fatal("Failed to run migrations", zap.Error(err))
		}
		logg.Info("Database migrations completed")
		subs = pgStore
	}

	dcfg := dispatch.Config{
		Concurrency: cfg.PushConcurrency,
		Client:      &http.Client{Timeout: cfg.PushHTTPTimeout},
		Remover:     subs,
		Logger:      logg.Named("dispatch"),
	}
	var eventSource handlers.EventSource
	if events != nil {
		dcfg.Publisher = events
		eventSource = events
	}
	dispatcher := dispatch.New(signer, encryptor, dcfg)

	h := handlers.NewHandler(subs, dispatcher, eventSource, signer.PublicKey(), logg.Named("http"))

	mux := http.NewServeMux()
	h.Register(mux, cfg.APIKey, handlers.NewRateLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit))))
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.APIKey == "" {
		logg.Warn("PUSH_API_KEY is empty; /api/push/send and /api/push/subscribe accept unauthenticated requests")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logg.Error("Graceful shutdown failed", zap.Error(err))
		}
	}()

	logg.Info("Listening",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("vapid_public_key", signer.PublicKey()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Fatal("Server failed", zap.Error(err))
	}
	logg.Info("Server stopped")
}
