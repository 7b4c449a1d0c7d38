// Package azure serves Azure OpenAI deployments. Each configured resource
// exposes a set of deployment ids behind its own key; models are routed by
// the resource and key recorded at discovery.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/llm/openai"
	"github.com/nulzo/onellm-router/pkg/api"
)

const (
	defaultBaseURL    = "https://{resource}.openai.azure.com/openai"
	defaultAPIVersion = "2023-06-01-preview"
	resourceToken     = "{resource}"
)

func init() {
	llm.Register(api.ProviderAzure, NewAdapter)
}

type Adapter struct {
	config    config.ProviderConfig
	transport llm.Transport
	catalog   *catalog.Catalog
}

func NewAdapter(cfg config.ProviderConfig, deps llm.Deps) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultAPIVersion
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	return &Adapter{
		config:    cfg,
		transport: deps.Transport,
		catalog:   deps.Catalog,
	}, nil
}

func (a *Adapter) Kind() api.ProviderKind { return api.ProviderAzure }

func (a *Adapter) Transport() llm.Transport { return a.transport }

// FrameDelay spaces out outbound deltas; Azure tends to deliver a whole
// answer in a handful of large reads.
func (a *Adapter) FrameDelay() time.Duration { return a.config.FrameDelay }

// deployment finds the resource recorded on model. KeyIndex points into the
// configured resource list.
func (a *Adapter) deployment(model api.Model) (config.Deployment, error) {
	fail := func(reason string) error {
		return &llm.ConfigurationError{Provider: api.ProviderAzure, Model: model.ID, Reason: reason}
	}

	if model.Resource == "" {
		return config.Deployment{}, fail("model has no resource")
	}
	if model.KeyIndex < 0 || model.KeyIndex >= len(a.config.Resources) {
		return config.Deployment{}, fail(fmt.Sprintf("key index %d out of range", model.KeyIndex))
	}
	d := a.config.Resources[model.KeyIndex]
	if d.Resource != model.Resource {
		return config.Deployment{}, fail(fmt.Sprintf("resource %s is not configured at index %d", model.Resource, model.KeyIndex))
	}
	if d.Key == "" {
		return config.Deployment{}, fail("resource has no key")
	}
	return d, nil
}

func (a *Adapter) endpoint(resource, deployment string) string {
	base := strings.TrimRight(a.config.BaseURL, "/")
	base = strings.ReplaceAll(base, resourceToken, resource)
	return base + "/deployments/" + deployment + "/chat/completions"
}

func (a *Adapter) BuildRequest(ctx context.Context, req *api.ChatRequest, model api.Model) (*httpclient.Request, error) {
	d, err := a.deployment(model)
	if err != nil {
		return nil, err
	}

	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    a.endpoint(d.Resource, model.ID),
		Header: map[string]string{"api-key": d.Key},
		Query:  map[string]string{"api-version": a.config.Version},
		Body:   req.ForModel(model.ID, req.Stream),
	}, nil
}

func (a *Adapter) NewDecoder(model api.Model, onError llm.ErrorHandler) llm.Decoder {
	return openai.NewStreamDecoder(api.ProviderAzure, onError)
}

func (a *Adapter) Normalize(body []byte, model api.Model) (*api.ChatResponse, error) {
	return openai.NormalizeCompletion(api.ProviderAzure, body, model)
}

// Models enumerates the configured deployments. No upstream call is made.
func (a *Adapter) Models(ctx context.Context) ([]api.Model, error) {
	var models []api.Model
	for i, d := range a.config.Resources {
		for _, id := range d.Models {
			if !a.catalog.IsChatCompatible(id) {
				continue
			}
			models = append(models, api.Model{
				ID:       id,
				Object:   "model",
				Created:  a.catalog.AzureCreated,
				OwnedBy:  string(api.ProviderAzure),
				Provider: api.ProviderAzure,
				Resource: d.Resource,
				KeyIndex: i,
			})
		}
	}
	return models, nil
}
