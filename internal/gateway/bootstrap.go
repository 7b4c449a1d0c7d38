package gateway

import (
	"github.com/go-playground/validator/v10"
	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.uber.org/zap"

	// Adapters register themselves with the llm factory table.
	_ "github.com/nulzo/onellm-router/internal/llm/anthropic"
	_ "github.com/nulzo/onellm-router/internal/llm/azure"
	_ "github.com/nulzo/onellm-router/internal/llm/google"
	_ "github.com/nulzo/onellm-router/internal/llm/openai"
)

// BootstrapProviders builds every enabled provider from configuration.
// Providers that are misconfigured are skipped with a warning.
func BootstrapProviders(providers config.ProvidersConfig, log *zap.Logger) []llm.Provider {
	validate := validator.New()
	cat := catalog.Default()

	var out []llm.Provider
	for _, kind := range llm.Kinds() {
		pCfg, ok := providers.All()[kind]
		if !ok || !pCfg.Enabled {
			continue
		}

		if err := validate.Struct(&pCfg); err != nil {
			log.Warn("Skipping provider due to missing credentials",
				zap.String("provider", string(kind)),
				zap.Error(err),
			)
			continue
		}

		factory, err := llm.Get(kind)
		if err != nil {
			log.Error("Unknown provider type", zap.String("provider", string(kind)))
			continue
		}

		p, err := factory(pCfg, llm.Deps{
			Transport: httpclient.New(pCfg.Timeout),
			Catalog:   cat,
		})
		if err != nil {
			log.Error("Failed to initialize provider",
				zap.String("provider", string(kind)),
				zap.Error(err),
			)
			continue
		}

		log.Info("Provider enabled", zap.String("provider", string(kind)))
		out = append(out, p)
	}

	if len(out) == 0 {
		log.Warn("No providers were registered. API will not function correctly.")
	}
	return out
}

// Kinds lists the kinds of the given providers.
func Kinds(providers []llm.Provider) []api.ProviderKind {
	kinds := make([]api.ProviderKind, 0, len(providers))
	for _, p := range providers {
		kinds = append(kinds, p.Kind())
	}
	return kinds
}
