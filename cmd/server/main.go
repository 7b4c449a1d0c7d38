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

	"github.com/nulzo/onellm-router/internal/cli"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/platform/logger"
	"github.com/nulzo/onellm-router/internal/platform/otel"
	"github.com/nulzo/onellm-router/internal/server"
	"github.com/nulzo/onellm-router/internal/store"
	"github.com/nulzo/onellm-router/internal/version"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Format = cfg.Log.Format
	lg, err := logger.Initialize(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer(cfg.Tracing.ServiceName, lg, os.Stdout)
		if err != nil {
			lg.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				lg.Warn("Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	modelCache, err := store.NewCache(ctx, cfg.Cache)
	if err != nil {
		lg.Fatal("Failed to open model cache", zap.String("driver", cfg.Cache.Driver), zap.Error(err))
	}
	defer func() {
		if err := modelCache.Close(); err != nil {
			lg.Warn("Model cache close failed", zap.Error(err))
		}
	}()

	providers := gateway.BootstrapProviders(cfg.Providers, lg)
	if len(providers) == 0 {
		lg.Warn("No providers are configured; every chat request will report per-model errors")
	}

	registry := gateway.NewRegistry(modelCache, providers, lg)
	// Warm the cache so the first request does not pay for discovery.
	registry.DiscoverAll(ctx, false)

	service := gateway.NewService(registry, lg)
	enabled := gateway.Kinds(providers)

	srv := server.New(cfg, lg, service, server.Info{
		Version:   version.Version,
		Providers: enabled,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cli.Banner{
		Version:   version.Version,
		Addr:      httpServer.Addr,
		Providers: enabled,
		Disabled:  disabled(enabled),
		Latest:    version.CheckForUpdates(ctx, httpclient.New(2*time.Second)),
	}.Write(os.Stdout)

	go func() {
		lg.Info("Starting server", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Server.Env))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Error("Server forced to shutdown", zap.Error(err))
	}
}

func disabled(enabled []api.ProviderKind) []api.ProviderKind {
	on := make(map[api.ProviderKind]bool, len(enabled))
	for _, k := range enabled {
		on[k] = true
	}

	var out []api.ProviderKind
	for _, k := range llm.Kinds() {
		if !on[k] {
			out = append(out, k)
		}
	}
	return out
}
