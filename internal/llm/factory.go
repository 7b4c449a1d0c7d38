package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/pkg/api"
)

// Deps are the shared collaborators handed to every provider factory.
type Deps struct {
	Transport Transport
	Catalog   *catalog.Catalog
}

type Factory func(cfg config.ProviderConfig, deps Deps) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[api.ProviderKind]Factory)
)

// Register makes a provider kind available. Adapters call it from init.
func Register(kind api.ProviderKind, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("provider factory %s already registered", kind))
	}
	factories[kind] = f
}

func Get(kind api.ProviderKind) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("provider factory not found for type: %s", kind)
	}
	return f, nil
}

// Kinds lists the registered provider kinds in a stable order.
func Kinds() []api.ProviderKind {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]api.ProviderKind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
