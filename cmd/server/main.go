// volumefs server
//
// A per-volume realtime collaborative filesystem:
// - Three patch families (JSON patch, text set, positional text patch)
// - BIT-backed rebasing of concurrent text edits
// - Tiered memory/durable storage over pluggable KV backends
// - WebSocket change subscriptions in commit order
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/volumefs/internal/api"
	"github.com/fruitsalade/volumefs/internal/auth"
	"github.com/fruitsalade/volumefs/internal/config"
	"github.com/fruitsalade/volumefs/internal/kv"
	"github.com/fruitsalade/volumefs/internal/logging"
	"github.com/fruitsalade/volumefs/internal/metrics"
	"github.com/fruitsalade/volumefs/internal/volume"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("volumefs server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("backend", cfg.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the KV backend
	store, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal("kv backend init failed", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	// Volume registry and API server
	registry := volume.NewRegistry(store, cfg.TextSessionCap)
	server := api.NewServer(registry, auth.New(cfg.JWTSecret))

	// Metrics server on its own listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			logging.Info("serving HTTPS", zap.String("addr", cfg.ListenAddr))
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logging.Info("serving HTTP", zap.String("addr", cfg.ListenAddr))
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logging.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}
}

// openStore builds the configured KV backend. The memory backend returns nil:
// every volume then runs memory-only.
func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case "memory":
		return nil, nil
	case "local":
		return kv.NewLocal(cfg.LocalStoragePath)
	case "redis":
		return kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return kv.NewPostgres(ctx, cfg.DatabaseURL)
	case "s3":
		return kv.NewS3(ctx, kv.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return nil, nil
}
