package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/platform/metrics"
	"github.com/nulzo/onellm-router/internal/store/cache"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.uber.org/zap"
)

const modelKeyPrefix = "model:"

func modelKey(id string) string {
	return modelKeyPrefix + id
}

// Registry resolves model ids to the provider serving them. Discovered
// models are kept in the cache store until a forced refresh replaces them.
type Registry struct {
	cache     cache.Store
	providers []llm.Provider
	byKind    map[api.ProviderKind]llm.Provider
	logger    *zap.Logger
}

func NewRegistry(store cache.Store, providers []llm.Provider, logger *zap.Logger) *Registry {
	byKind := make(map[api.ProviderKind]llm.Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	return &Registry{
		cache:     store,
		providers: providers,
		byKind:    byKind,
		logger:    logger,
	}
}

// Provider returns the adapter for kind.
func (r *Registry) Provider(kind api.ProviderKind) (llm.Provider, bool) {
	p, ok := r.byKind[kind]
	return p, ok
}

// Resolve returns the cached model for id. A miss triggers one discovery
// pass across all providers before giving up with a *llm.ResolutionError.
func (r *Registry) Resolve(ctx context.Context, id string) (api.Model, error) {
	m, err := r.lookup(ctx, id)
	if err == nil || !errors.Is(err, cache.ErrNotFound) {
		return m, err
	}

	r.DiscoverAll(ctx, false)

	m, err = r.lookup(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		return api.Model{}, &llm.ResolutionError{Model: id}
	}
	return m, err
}

func (r *Registry) lookup(ctx context.Context, id string) (api.Model, error) {
	var m api.Model
	if err := r.cache.Get(ctx, modelKey(id), &m); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return api.Model{}, err
		}
		return api.Model{}, fmt.Errorf("model cache lookup for %s: %w", id, err)
	}
	return m, nil
}

// DiscoverAll asks every provider for its models and writes them to the
// cache. Without force an existing entry is kept, so the first provider to
// announce an id owns it. A provider that fails contributes nothing.
func (r *Registry) DiscoverAll(ctx context.Context, force bool) []api.Model {
	var all []api.Model
	for _, p := range r.providers {
		kind := string(p.Kind())

		models, err := p.Models(ctx)
		if err != nil {
			metrics.DiscoveriesTotal.WithLabelValues(kind, "error").Inc()
			r.logger.Warn("Model discovery failed",
				zap.String("provider", kind),
				zap.Error(err),
			)
			continue
		}
		metrics.DiscoveriesTotal.WithLabelValues(kind, "ok").Inc()

		for _, m := range models {
			if err := r.store(ctx, m, force); err != nil {
				r.logger.Error("Failed to cache model",
					zap.String("provider", kind),
					zap.String("model", m.ID),
					zap.Error(err),
				)
				continue
			}
			all = append(all, m)
		}

		r.logger.Debug("Discovered models",
			zap.String("provider", kind),
			zap.Int("count", len(models)),
			zap.Bool("force", force),
		)
	}
	return all
}

func (r *Registry) store(ctx context.Context, m api.Model, force bool) error {
	if force {
		return r.cache.Set(ctx, modelKey(m.ID), m)
	}
	_, err := r.cache.SetIfAbsent(ctx, modelKey(m.ID), m)
	return err
}

// Refresh re-runs discovery and overwrites every cached entry it returns.
func (r *Registry) Refresh(ctx context.Context) []api.Model {
	return r.DiscoverAll(ctx, true)
}

// List returns the cached models matching filter, sorted by id. An empty
// cache is populated first.
func (r *Registry) List(ctx context.Context, filter api.ModelFilter) ([]api.Model, error) {
	keys, err := r.cache.Keys(ctx, modelKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list cached models: %w", err)
	}
	if len(keys) == 0 {
		r.DiscoverAll(ctx, false)
		if keys, err = r.cache.Keys(ctx, modelKeyPrefix); err != nil {
			return nil, fmt.Errorf("list cached models: %w", err)
		}
	}

	models := make([]api.Model, 0, len(keys))
	for _, key := range keys {
		var m api.Model
		if err := r.cache.Get(ctx, key, &m); err != nil {
			// Removed between Keys and Get.
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read cached model %s: %w", key, err)
		}
		if !matches(m, filter) {
			continue
		}
		models = append(models, m)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func matches(m api.Model, filter api.ModelFilter) bool {
	if filter.Provider != "" && !strings.EqualFold(string(m.Provider), filter.Provider) {
		return false
	}
	if filter.OwnedBy != "" && !strings.EqualFold(m.OwnedBy, filter.OwnedBy) {
		return false
	}
	if filter.ID != "" && !strings.Contains(strings.ToLower(m.ID), strings.ToLower(filter.ID)) {
		return false
	}
	return true
}
