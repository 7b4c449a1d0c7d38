// Package anthropic talks to Claude through the legacy text completion
// endpoint. Chat messages are folded into a single Human/Assistant prompt.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultVersion = "2023-06-01"

	// maxTokensToSample is sent when the client sets no limit.
	maxTokensToSample = 100000

	humanTurn     = "\n\nHuman: "
	assistantTurn = "\n\nAssistant: "
)

func init() {
	llm.Register(api.ProviderClaude, NewAdapter)
}

type Adapter struct {
	config    config.ProviderConfig
	transport llm.Transport
	catalog   *catalog.Catalog
	now       func() time.Time
}

func NewAdapter(cfg config.ProviderConfig, deps llm.Deps) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	return &Adapter{
		config:    cfg,
		transport: deps.Transport,
		catalog:   deps.Catalog,
		now:       time.Now,
	}, nil
}

func (a *Adapter) Kind() api.ProviderKind { return api.ProviderClaude }

func (a *Adapter) Transport() llm.Transport { return a.transport }

type completionRequest struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	MaxTokensToSample int      `json:"max_tokens_to_sample"`
	StopSequences     []string `json:"stop_sequences,omitempty"`
	Stream            bool     `json:"stream,omitempty"`
}

// Prompt renders messages as alternating turns and leaves an open
// assistant turn at the end.
func Prompt(messages []api.ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == string(api.Assistant) {
			sb.WriteString(assistantTurn)
		} else {
			sb.WriteString(humanTurn)
		}
		sb.WriteString(m.Content.String())
	}
	sb.WriteString(assistantTurn)
	return sb.String()
}

func (a *Adapter) BuildRequest(ctx context.Context, req *api.ChatRequest, model api.Model) (*httpclient.Request, error) {
	if a.config.APIKey == "" {
		return nil, &llm.ConfigurationError{Provider: api.ProviderClaude, Model: model.ID, Reason: "api key is not configured"}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = maxTokensToSample
	}

	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(a.config.BaseURL, "/") + "/complete",
		Header: map[string]string{
			"x-api-key":         a.config.APIKey,
			"anthropic-version": a.config.Version,
		},
		Body: completionRequest{
			Prompt:            Prompt(req.Messages),
			Model:             model.ID,
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			MaxTokensToSample: maxTokens,
			StopSequences:     req.Stop.Values(),
			Stream:            req.Stream,
		},
	}, nil
}

func (a *Adapter) NewDecoder(model api.Model, onError llm.ErrorHandler) llm.Decoder {
	return NewStreamDecoder(onError)
}

type completionResponse struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
	Model      string `json:"model"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// stopReasons maps completion stop reasons onto chat finish reasons.
var stopReasons = map[string]string{
	"stop_sequence": api.FinishStop,
	"max_tokens":    api.FinishLength,
}

// FinishReason maps a stop reason. Unknown reasons pass through and an empty
// one means the completion has not finished.
func FinishReason(stopReason string) *string {
	if stopReason == "" {
		return nil
	}
	if mapped, ok := stopReasons[stopReason]; ok {
		return api.Reason(mapped)
	}
	return api.Reason(stopReason)
}

// Normalize converts a completion body. The endpoint reports no usage, so
// completion tokens are estimated by word count.
func (a *Adapter) Normalize(body []byte, model api.Model) (*api.ChatResponse, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &llm.UpstreamError{Provider: api.ProviderClaude, Model: model.ID, Message: "unparseable response body", Err: err}
	}
	if resp.Error != nil {
		return nil, &llm.UpstreamError{Provider: api.ProviderClaude, Model: model.ID, Message: resp.Error.Message}
	}

	ts := a.now().Unix()
	tokens := llm.CountTokens(resp.Completion)

	return &api.ChatResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", ts),
		Object:  api.ObjectCompletion,
		Created: ts,
		Model:   model.ID,
		Choices: []api.Choice{{
			Index: 0,
			Message: &api.ChatMessage{
				Role:    string(api.Assistant),
				Content: api.Content{Text: resp.Completion},
			},
			FinishReason: FinishReason(resp.StopReason),
		}},
		Usage: &api.Usage{
			CompletionTokens: tokens,
			TotalTokens:      tokens,
		},
	}, nil
}

// Models returns the static Claude model list; the completion API has no
// listing endpoint.
func (a *Adapter) Models(ctx context.Context) ([]api.Model, error) {
	return a.catalog.Models(api.ProviderClaude), nil
}
