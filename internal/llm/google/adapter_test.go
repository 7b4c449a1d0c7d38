package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, cfg config.ProviderConfig) *Adapter {
	t.Helper()
	p, err := NewAdapter(cfg, llm.Deps{Transport: httpclient.New(5 * time.Second)})
	require.NoError(t, err)
	return p.(*Adapter)
}

func TestShape_ChatModel(t *testing.T) {
	temp := 0.3
	req := &api.ChatRequest{
		Temperature: &temp,
		N:           2,
		Messages: []api.ChatMessage{
			{Role: "system", Content: api.Content{Text: "You are terse."}},
			{Role: "user", Content: api.Content{Text: "Hi"}},
			{Role: "system", Content: api.Content{Text: "ignored"}},
			{Role: "assistant", Content: api.Content{Text: "Hello"}},
		},
	}

	shaped := Shape(req, "chat-bison-001")

	assert.Equal(t, "You are terse.", shaped.Prompt.Context)
	assert.Equal(t, []Message{{Content: "Hi"}, {Content: "Hello"}}, shaped.Prompt.Messages)
	assert.Empty(t, shaped.Prompt.Text)
	assert.Equal(t, 2, shaped.CandidateCount)
	assert.Equal(t, &temp, shaped.Temperature)
}

func TestShape_TextModel(t *testing.T) {
	req := &api.ChatRequest{
		MaxTokens: 64,
		Stop:      &api.Stop{Val: []string{"END"}},
		Messages: []api.ChatMessage{
			{Role: "system", Content: api.Content{Text: "Context"}},
			{Role: "user", Content: api.Content{Text: "Question"}},
		},
	}

	shaped := Shape(req, "text-bison-001")

	assert.Equal(t, "Context\n\nQuestion", shaped.Prompt.Text)
	assert.Nil(t, shaped.Prompt.Messages)
	assert.Equal(t, 64, shaped.MaxOutputTokens)
	assert.Equal(t, []string{"END"}, shaped.StopSequences)
}

func TestBuildRequest(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "palm-key"})
	req := &api.ChatRequest{Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}}}

	chat, err := a.BuildRequest(context.Background(), req, api.Model{ID: "chat-bison-001"})
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta2/models/chat-bison-001:generateMessage", chat.URL)
	assert.Equal(t, "palm-key", chat.Query["key"])

	text, err := a.BuildRequest(context.Background(), req, api.Model{ID: "text-bison-001"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text.URL, "/models/text-bison-001:generateText"))

	_, err = newTestAdapter(t, config.ProviderConfig{}).BuildRequest(context.Background(), req, api.Model{ID: "chat-bison-001"})
	var cfgErr *llm.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNormalize_Message(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})

	resp, err := a.Normalize([]byte(`{
		"candidates": [{"author": "1", "content": "Hello world"}, {"author": "1", "content": "Hi"}],
		"messages": [{"author": "0", "content": "Hi"}],
		"filters": [{"reason": "OTHER"}]
	}`), api.Model{ID: "chat-bison-001"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat-bison-001", resp.Model)
	require.Len(t, resp.Choices, 2)
	assert.Equal(t, 1, resp.Choices[1].Index)
	assert.Equal(t, "Hello world", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	assert.Equal(t, &api.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, resp.Usage)
	assert.Equal(t, []api.PromptAnnotation{{"reason": "OTHER"}}, resp.PromptAnnotations)
}

func TestNormalize_TextOutput(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})

	resp, err := a.Normalize([]byte(`{"candidates": [{"output": "Paris", "safetyRatings": []}]}`), api.Model{ID: "text-bison-001"})
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Choices[0].Message.Content.Text)
}

func TestNormalize_NoCandidates(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})

	_, err := a.Normalize([]byte(`{"filters": [{"reason": "OTHER"}], "messages": []}`), api.Model{ID: "chat-bison-001"})

	var upErr *llm.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Contains(t, upErr.Message, "no candidates")
}

func TestSynthesize_HelloWorld(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})
	resp := &api.ChatResponse{
		ID: "chatcmpl-x",
		Choices: []api.Choice{{
			Message: &api.ChatMessage{Role: "assistant", Content: api.Content{Text: "Hello world"}},
		}},
	}

	deltas := a.Synthesize(resp)

	var sb strings.Builder
	for i, d := range deltas {
		sb.WriteString(d.Content)
		if i == len(deltas)-1 {
			require.NotNil(t, d.FinishReason)
			assert.Equal(t, "stop", *d.FinishReason)
		} else {
			assert.Nil(t, d.FinishReason, "delta %d", i)
		}
	}
	assert.Equal(t, "Hello world", sb.String())
	assert.Len(t, deltas, 3)
	assert.Equal(t, "assistant", deltas[0].Role)
}

func TestSynthesize_EmptyContent(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})

	deltas := a.Synthesize(&api.ChatResponse{Choices: []api.Choice{{Message: &api.ChatMessage{}}}})

	require.Len(t, deltas, 1)
	assert.Equal(t, "", deltas[0].Content)
	assert.True(t, deltas[0].Terminal())
}

func TestBufferedDecoder(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})
	d := a.NewDecoder(api.Model{ID: "chat-bison-001"}, nil)

	body := `{"candidates":[{"content":"Hi there"}],"messages":[{"content":"Hi"}]}`
	assert.Empty(t, d.Decode([]byte(body[:10])))
	assert.Empty(t, d.Decode([]byte(body[10:])))

	deltas := d.Flush()
	require.Len(t, deltas, 3)
	assert.True(t, d.Terminal())
	assert.NoError(t, d.Err())
}

func TestBufferedDecoder_NoCandidates(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})
	d := a.NewDecoder(api.Model{ID: "chat-bison-001"}, nil)

	d.Decode([]byte(`{"candidates":[],"filters":[{"reason":"OTHER"}]}`))
	assert.Empty(t, d.Flush())
	assert.False(t, d.Terminal())

	var upErr *llm.UpstreamError
	require.ErrorAs(t, d.Err(), &upErr)
	assert.Contains(t, upErr.Message, "no candidates")
}

func TestModels_Static(t *testing.T) {
	a := newTestAdapter(t, config.ProviderConfig{APIKey: "k"})

	models, err := a.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "palm", models[0].OwnedBy)
}

func TestRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/chat-bison-001:generateMessage", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":"pong"}],"messages":[{"content":"ping"}]}`))
	}))
	defer server.Close()

	a := newTestAdapter(t, config.ProviderConfig{APIKey: "secret", BaseURL: server.URL})
	model := api.Model{ID: "chat-bison-001"}

	req, err := a.BuildRequest(context.Background(), &api.ChatRequest{Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "ping"}}}}, model)
	require.NoError(t, err)

	body, err := a.Transport().Send(context.Background(), req)
	require.NoError(t, err)

	resp, err := a.Normalize(body, model)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Choices[0].Message.Content.Text)
}
