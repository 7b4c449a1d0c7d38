// Command seed runs model discovery once and writes the result into the
// configured model cache, so a redis or sqlite backed deployment starts warm.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nulzo/onellm-router/internal/cli"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/internal/platform/logger"
	"github.com/nulzo/onellm-router/internal/store"
	"go.uber.org/zap"
)

func main() {
	force := flag.Bool("force", false, "Overwrite models already present in the cache")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall discovery timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	modelCache, err := store.NewCache(ctx, cfg.Cache)
	if err != nil {
		lg.Fatal("Failed to open model cache", zap.Error(err))
	}
	defer modelCache.Close()

	registry := gateway.NewRegistry(modelCache, gateway.BootstrapProviders(cfg.Providers, lg), lg)

	models := registry.DiscoverAll(ctx, *force)
	for _, m := range models {
		fmt.Printf("%s %-28s %s\n", cli.CheckMark(), m.ID, cli.Style(string(m.Provider), cli.DimCode))
	}
	fmt.Printf("\n%s Seeded %d models into the %s cache\n", cli.Arrow(), len(models), cfg.Cache.Driver)
}
