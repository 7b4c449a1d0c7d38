package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/llm/openai"
	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, baseURL, key string) llm.Provider {
	t.Helper()
	p, err := openai.NewAdapter(config.ProviderConfig{
		APIKey:  key,
		BaseURL: baseURL,
	}, llm.Deps{Transport: httpclient.New(5 * time.Second)})
	require.NoError(t, err)
	return p
}

func TestBuildRequest(t *testing.T) {
	p := newAdapter(t, "https://example.test/v1/", "test-key")
	temp := 0.2

	req := &api.ChatRequest{
		Model:       "gpt-4,claude-2",
		Temperature: &temp,
		Stream:      true,
		Messages:    []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	}

	out, err := p.BuildRequest(context.Background(), req, api.Model{ID: "gpt-4", Provider: api.ProviderOpenAI})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, "https://example.test/v1/chat/completions", out.URL)
	assert.Equal(t, "Bearer test-key", out.Header["Authorization"])

	body, err := json.Marshal(out.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4","stream":true,"temperature":0.2,"messages":[{"role":"user","content":"Hi"}]}`, string(body))
	assert.Equal(t, "gpt-4,claude-2", req.Model, "original request untouched")
}

func TestBuildRequest_MissingKey(t *testing.T) {
	p := newAdapter(t, "", "")

	_, err := p.BuildRequest(context.Background(), &api.ChatRequest{}, api.Model{ID: "gpt-4"})

	var cfgErr *llm.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNormalize(t *testing.T) {
	p := newAdapter(t, "", "k")

	resp, err := p.Normalize([]byte(`{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1677652288,
		"model": "gpt-3.5-turbo-0613",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "Hello there!"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 12, "total_tokens": 21}
	}`), api.Model{ID: "gpt-3.5-turbo"})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-123", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello there!", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	assert.Equal(t, 21, resp.Usage.TotalTokens)
}

func TestNormalize_ErrorBody(t *testing.T) {
	p := newAdapter(t, "", "k")

	_, err := p.Normalize([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`), api.Model{ID: "gpt-4"})

	var upErr *llm.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "model overloaded", upErr.Message)

	_, err = p.Normalize([]byte(`<html>`), api.Model{ID: "gpt-4"})
	assert.True(t, errors.As(err, &upErr))
}

func TestModels_FiltersChatCompatible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"id": "gpt-4", "object": "model", "created": 1687882411, "owned_by": "openai"},
				{"id": "gpt-3.5-turbo-16k", "object": "model", "created": 1683758102, "owned_by": "openai-internal"},
				{"id": "whisper-1", "object": "model", "created": 1677532384, "owned_by": "openai-internal"}
			]
		}`))
	}))
	defer server.Close()

	p := newAdapter(t, server.URL+"/v1", "test-key")

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "gpt-4", models[0].ID)
	assert.Equal(t, api.ProviderOpenAI, models[0].Provider)
	assert.Equal(t, "openai-internal", models[1].OwnedBy)
}

func TestModels_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer server.Close()

	p := newAdapter(t, server.URL, "bad")

	_, err := p.Models(context.Background())

	var upErr *llm.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
}
