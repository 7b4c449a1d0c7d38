// Package google serves PaLM models through the generativelanguage API.
// PaLM has no streaming mode; streamed requests are answered by replaying
// a complete response as synthetic deltas.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/onellm-router/internal/catalog"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta2"

func init() {
	llm.Register(api.ProviderPaLM, NewAdapter)
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

func (a *Adapter) Kind() api.ProviderKind { return api.ProviderPaLM }

func (a *Adapter) Transport() llm.Transport { return a.transport }

type Message struct {
	Content string `json:"content"`
}

type Prompt struct {
	Context  string    `json:"context,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Text     string    `json:"text,omitempty"`
}

type GenerateRequest struct {
	Prompt          Prompt   `json:"prompt"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	CandidateCount  int      `json:"candidateCount,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// isTextModel reports whether id is served by generateText rather than
// generateMessage.
func isTextModel(id string) bool {
	return strings.HasPrefix(id, "text-")
}

// Shape converts a chat request into a PaLM prompt. The first system
// message becomes the context; the other messages are sent in order.
// Text models get the same turns flattened into a single prompt.
func Shape(req *api.ChatRequest, modelID string) GenerateRequest {
	out := GenerateRequest{
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		CandidateCount: req.N,
	}

	var system string
	var seenSystem bool
	var messages []Message
	for _, m := range req.Messages {
		if m.Role == string(api.System) {
			if !seenSystem {
				system, seenSystem = m.Content.String(), true
			}
			continue
		}
		messages = append(messages, Message{Content: m.Content.String()})
	}

	if !isTextModel(modelID) {
		out.Prompt = Prompt{Context: system, Messages: messages}
		return out
	}

	parts := make([]string, 0, len(messages)+1)
	if system != "" {
		parts = append(parts, system)
	}
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	out.Prompt = Prompt{Text: strings.Join(parts, "\n\n")}
	out.MaxOutputTokens = req.MaxTokens
	out.StopSequences = req.Stop.Values()
	return out
}

func (a *Adapter) BuildRequest(ctx context.Context, req *api.ChatRequest, model api.Model) (*httpclient.Request, error) {
	if a.config.APIKey == "" {
		return nil, &llm.ConfigurationError{Provider: api.ProviderPaLM, Model: model.ID, Reason: "api key is not configured"}
	}

	method := "generateMessage"
	if isTextModel(model.ID) {
		method = "generateText"
	}

	return &httpclient.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:%s", strings.TrimRight(a.config.BaseURL, "/"), model.ID, method),
		Query:  map[string]string{"key": a.config.APIKey},
		Body:   Shape(req, model.ID),
	}, nil
}

type generateResponse struct {
	Candidates []struct {
		Content string `json:"content"`
		Output  string `json:"output"`
	} `json:"candidates"`
	Messages []json.RawMessage      `json:"messages"`
	Filters  []api.PromptAnnotation `json:"filters"`
}

// Normalize converts a generateMessage or generateText body. PaLM reports
// no token usage; prompt messages and candidates are counted instead.
func (a *Adapter) Normalize(body []byte, model api.Model) (*api.ChatResponse, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &llm.UpstreamError{Provider: api.ProviderPaLM, Model: model.ID, Message: "unparseable response body", Err: err}
	}
	if len(resp.Candidates) == 0 {
		msg := "model returned no candidates"
		if len(resp.Filters) > 0 {
			msg += fmt.Sprintf(" (%d filters applied)", len(resp.Filters))
		}
		return nil, &llm.UpstreamError{Provider: api.ProviderPaLM, Model: model.ID, Message: msg}
	}

	choices := make([]api.Choice, 0, len(resp.Candidates))
	for i, c := range resp.Candidates {
		text := c.Content
		if text == "" {
			text = c.Output
		}
		choices = append(choices, api.Choice{
			Index: i,
			Message: &api.ChatMessage{
				Role:    string(api.Assistant),
				Content: api.Content{Text: text},
			},
			FinishReason: api.Reason(api.FinishStop),
		})
	}

	return &api.ChatResponse{
		ID:                "chatcmpl-" + uuid.NewString(),
		Object:            api.ObjectCompletion,
		Created:           a.now().Unix(),
		Model:             model.ID,
		Choices:           choices,
		PromptAnnotations: resp.Filters,
		Usage: &api.Usage{
			PromptTokens:     len(resp.Messages),
			CompletionTokens: len(resp.Candidates),
			TotalTokens:      len(resp.Messages) + len(resp.Candidates),
		},
	}, nil
}

// Synthesize replays a complete response as a delta sequence. Each choice
// is cut into whitespace and word tokens; only its last token is terminal.
func (a *Adapter) Synthesize(resp *api.ChatResponse) []llm.Delta {
	var out []llm.Delta
	for _, c := range resp.Choices {
		var text string
		if c.Message != nil {
			text = c.Message.Content.String()
		}

		tokens := llm.SplitTokens(text)
		if len(tokens) == 0 {
			tokens = []string{""}
		}
		for i, tok := range tokens {
			d := llm.Delta{
				Index:   c.Index,
				Content: tok,
				ID:      resp.ID,
				Created: resp.Created,
			}
			if i == 0 {
				d.Role = string(api.Assistant)
			}
			if i == len(tokens)-1 {
				d.FinishReason = api.Reason(api.FinishStop)
			}
			out = append(out, d)
		}
	}
	return out
}

// NewDecoder buffers a complete body and synthesizes deltas from it on
// Flush. The gateway never streams from PaLM: it sees the Synthesizer
// capability, calls Send and replays through Synthesize. The decoder is for
// callers that only hold a Decoder and a response body, and it reports a
// failed body through Err like the streaming decoders do.
func (a *Adapter) NewDecoder(model api.Model, _ llm.ErrorHandler) llm.Decoder {
	return &bufferedDecoder{adapter: a, model: model}
}

type bufferedDecoder struct {
	adapter  *Adapter
	model    api.Model
	buf      []byte
	terminal bool
	err      error
}

func (d *bufferedDecoder) Decode(chunk []byte) []llm.Delta {
	d.buf = append(d.buf, chunk...)
	return nil
}

func (d *bufferedDecoder) Flush() []llm.Delta {
	if len(d.buf) == 0 {
		return nil
	}
	body := d.buf
	d.buf = nil

	resp, err := d.adapter.Normalize(body, d.model)
	if err != nil {
		d.err = err
		return nil
	}
	deltas := d.adapter.Synthesize(resp)
	d.terminal = len(deltas) > 0 && deltas[len(deltas)-1].Terminal()
	return deltas
}

func (d *bufferedDecoder) Terminal() bool {
	return d.terminal
}

func (d *bufferedDecoder) Err() error {
	return d.err
}

// Models returns the static PaLM model list.
func (a *Adapter) Models(ctx context.Context) ([]api.Model, error) {
	return a.catalog.Models(api.ProviderPaLM), nil
}
