package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	llm.Register(api.ProviderOpenAI, NewAdapter)
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
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	return &Adapter{
		config:    cfg,
		transport: deps.Transport,
		catalog:   deps.Catalog,
	}, nil
}

func (a *Adapter) Kind() api.ProviderKind { return api.ProviderOpenAI }

func (a *Adapter) Transport() llm.Transport { return a.transport }

func (a *Adapter) baseURL() string {
	return strings.TrimRight(a.config.BaseURL, "/")
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.config.APIKey}
}

func (a *Adapter) BuildRequest(ctx context.Context, req *api.ChatRequest, model api.Model) (*httpclient.Request, error) {
	if a.config.APIKey == "" {
		return nil, &llm.ConfigurationError{Provider: api.ProviderOpenAI, Model: model.ID, Reason: "api key is not configured"}
	}

	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    a.baseURL() + "/chat/completions",
		Header: a.headers(),
		Body:   req.ForModel(model.ID, req.Stream),
	}, nil
}

func (a *Adapter) NewDecoder(model api.Model, onError llm.ErrorHandler) llm.Decoder {
	return NewStreamDecoder(api.ProviderOpenAI, onError)
}

func (a *Adapter) Normalize(body []byte, model api.Model) (*api.ChatResponse, error) {
	return NormalizeCompletion(api.ProviderOpenAI, body, model)
}

type completionBody struct {
	api.ChatResponse
	Error *struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// NormalizeCompletion decodes an OpenAI style chat.completion body.
func NormalizeCompletion(kind api.ProviderKind, body []byte, model api.Model) (*api.ChatResponse, error) {
	var resp completionBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &llm.UpstreamError{Provider: kind, Model: model.ID, Message: "unparseable response body", Err: err}
	}
	if resp.Error != nil {
		return nil, &llm.UpstreamError{Provider: kind, Model: model.ID, Message: resp.Error.Message}
	}

	out := resp.ChatResponse
	if out.Object == "" {
		out.Object = api.ObjectCompletion
	}
	if out.Model == "" {
		out.Model = model.ID
	}
	return &out, nil
}

type modelList struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// Models lists the account's models and keeps the chat-compatible ones.
func (a *Adapter) Models(ctx context.Context) ([]api.Model, error) {
	if a.config.APIKey == "" {
		return nil, &llm.ConfigurationError{Provider: api.ProviderOpenAI, Model: "*", Reason: "api key is not configured"}
	}

	body, err := a.transport.Send(ctx, &httpclient.Request{
		Method: http.MethodGet,
		URL:    a.baseURL() + "/models",
		Header: a.headers(),
	})
	if err != nil {
		return nil, llm.NewUpstreamError(api.ProviderOpenAI, "*", err)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]api.Model, 0, len(list.Data))
	for _, m := range list.Data {
		if !a.catalog.IsChatCompatible(m.ID) {
			continue
		}
		ownedBy := m.OwnedBy
		if ownedBy == "" {
			ownedBy = string(api.ProviderOpenAI)
		}
		models = append(models, api.Model{
			ID:       m.ID,
			Object:   "model",
			Created:  m.Created,
			OwnedBy:  ownedBy,
			Provider: api.ProviderOpenAI,
		})
	}
	return models, nil
}
