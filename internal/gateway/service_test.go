package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/llm/anthropic"
	"github.com/nulzo/onellm-router/internal/llm/azure"
	"github.com/nulzo/onellm-router/internal/llm/google"
	"github.com/nulzo/onellm-router/internal/store/cache/memory"
	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	gpt4Body = `{"id":"chatcmpl-gpt4","object":"chat.completion","created":1700000001,"model":"gpt-4",
		"choices":[{"index":0,"message":{"role":"assistant","content":"four"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`
	turboBody = `{"id":"chatcmpl-turbo","object":"chat.completion","created":1700000002,"model":"gpt-3.5-turbo",
		"choices":[
			{"index":0,"message":{"role":"assistant","content":"a"},"finish_reason":"stop"},
			{"index":1,"message":{"role":"assistant","content":"b"},"finish_reason":"length"}],
		"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

	gpt4Stream = "data: {\"id\":\"c-gpt4\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"c-gpt4\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"
	// Ends without a finish reason or sentinel.
	turboStream = "data: {\"id\":\"c-turbo\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n"
)

type fixture struct {
	transport *fakeTransport
	openai    *MockProvider
	service   Service
}

func newFixture(t *testing.T, extra ...llm.Provider) *fixture {
	t.Helper()
	ft := newFakeTransport()
	ft.bodies["gpt-4"] = gpt4Body
	ft.bodies["gpt-3.5-turbo"] = turboBody
	ft.streams["gpt-4"] = gpt4Stream
	ft.streams["gpt-3.5-turbo"] = turboStream

	p := newMockOpenAI(t, ft)
	p.On("Models", mock.Anything).Return([]api.Model{openAIModel("gpt-4"), openAIModel("gpt-3.5-turbo")}, nil)

	providers := append([]llm.Provider{p}, extra...)
	registry := NewRegistry(memory.NewMemoryCache(), providers, zap.NewNop())

	return &fixture{
		transport: ft,
		openai:    p,
		service:   NewService(registry, zap.NewNop()),
	}
}

func chatRequest(models string, stream bool) *api.ChatRequest {
	return &api.ChatRequest{
		Model:    models,
		Stream:   stream,
		Messages: []api.ChatMessage{{Role: "user", Content: api.Content{Text: "Hi"}}},
	}
}

func drain(ch <-chan *api.ChatResponse) []*api.ChatResponse {
	var out []*api.ChatResponse
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestChat_MergesAllModels(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Chat(context.Background(), chatRequest("gpt-4,gpt-3.5-turbo", false))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 3)
	for i, c := range resp.Choices {
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, "four", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, "b", resp.Choices[2].Message.Content.Text)

	assert.Equal(t, "chatcmpl-gpt4", resp.ID)
	assert.Equal(t, int64(1700000001), resp.Created)
	assert.Equal(t, "gpt-4,gpt-3.5-turbo", resp.Model)
	assert.Equal(t, &api.Usage{PromptTokens: 6, CompletionTokens: 3, TotalTokens: 9}, resp.Usage)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, []string{"gpt-4", "gpt-3.5-turbo"}, f.transport.Calls(), "models are called in request order")
}

func TestChat_UnresolvedModelIsolated(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Chat(context.Background(), chatRequest("gpt-4,does-not-exist,gpt-3.5-turbo", false))
	require.NoError(t, err)

	require.Len(t, resp.Errors, 1)
	assert.True(t, strings.HasPrefix(resp.Errors[0], "does-not-exist: "))
	assert.Len(t, resp.Choices, 3)
	assert.NotContains(t, f.transport.Calls(), "does-not-exist")
}

func TestChat_UpstreamFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.transport.errs["gpt-4"] = &httpclient.UpstreamError{StatusCode: 500, Body: []byte(`{"error":{"message":"boom"}}`)}

	resp, err := f.service.Chat(context.Background(), chatRequest("gpt-4,gpt-3.5-turbo", false))
	require.NoError(t, err)

	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "gpt-4: ")
	assert.Contains(t, resp.Errors[0], "boom")
	require.Len(t, resp.Choices, 2)
	assert.Equal(t, "chatcmpl-turbo", resp.ID)
}

func TestChat_AllFailed(t *testing.T) {
	f := newFixture(t)

	resp, err := f.service.Chat(context.Background(), chatRequest("nope-1,nope-2", false))
	require.NoError(t, err)

	assert.Len(t, resp.Errors, 2)
	assert.Empty(t, resp.Choices)
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"choices":[]`)
}

func TestChat_NoModels(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Chat(context.Background(), chatRequest(" , ", false))
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestStreamChat_SequentialWithMarkers(t *testing.T) {
	f := newFixture(t)

	ch, err := f.service.StreamChat(context.Background(), chatRequest("gpt-4,missing,gpt-3.5-turbo", true))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 5)

	// gpt-4 streams to its own finish reason.
	assert.Equal(t, "gpt-4", chunks[0].Model)
	assert.Equal(t, api.ObjectChunk, chunks[0].Object)
	assert.Equal(t, "Hel", chunks[0].Choices[0].Delta.Content.Text)
	assert.Equal(t, "stop", *chunks[1].Choices[0].FinishReason)

	// missing gets an inline error marker.
	marker := chunks[2].Choices[0]
	assert.Equal(t, "missing", chunks[2].Model)
	assert.Equal(t, api.FinishError, *marker.FinishReason)
	require.NotNil(t, marker.Error)
	assert.Equal(t, "missing", marker.Error.Model)
	assert.Contains(t, marker.Error.Message, "missing")

	// gpt-3.5-turbo ended without a finish reason; a terminal chunk is added.
	assert.Equal(t, "Hi", chunks[3].Choices[0].Delta.Content.Text)
	assert.Nil(t, chunks[3].Choices[0].FinishReason)
	assert.Equal(t, "gpt-3.5-turbo", chunks[4].Model)
	assert.Equal(t, "stop", *chunks[4].Choices[0].FinishReason)

	collected := Collect(chunks)
	require.Len(t, collected, 3)
	assert.Equal(t, "Hello", collected[0].Choices[0].Message.Content.Text)
	assert.Equal(t, "Hi", collected[2].Choices[0].Message.Content.Text)
}

func TestStreamChat_ClientGoneStopsFanout(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := f.service.StreamChat(ctx, chatRequest("gpt-4,gpt-3.5-turbo", true))
	require.NoError(t, err)

	<-ch
	cancel()
	drain(ch)

	assert.NotContains(t, f.transport.Calls(), "gpt-3.5-turbo")
}

func TestStreamChat_InBandUpstreamError(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		stream  string
		message string
	}{
		{
			name:    "openai error frame",
			model:   "gpt-4",
			stream:  "data: {\"error\":{\"message\":\"The server had an error\",\"type\":\"server_error\"}}\n\n",
			message: "The server had an error",
		},
		{
			name:    "anthropic error event",
			model:   "claude-2",
			stream:  "event: error\ndata: {\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
			message: "Overloaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.streams["claude-2"] = tt.stream
			claude, err := anthropic.NewAdapter(config.ProviderConfig{APIKey: "k"}, llm.Deps{Transport: ft})
			require.NoError(t, err)

			f := newFixture(t, claude)
			f.transport.streams["gpt-4"] = tt.stream

			ch, err := f.service.StreamChat(context.Background(), chatRequest(tt.model+",gpt-3.5-turbo", true))
			require.NoError(t, err)
			chunks := drain(ch)

			require.Len(t, chunks, 3, "marker, then the next model's content and stop")
			marker := chunks[0].Choices[0]
			require.NotNil(t, marker.FinishReason)
			assert.Equal(t, "error", *marker.FinishReason)
			require.NotNil(t, marker.Error)
			assert.Contains(t, marker.Error.Message, tt.message)
			assert.Equal(t, tt.model, marker.Error.Model)
			assert.Equal(t, tt.model, chunks[0].Model)

			for _, c := range chunks[1:] {
				assert.Equal(t, "gpt-3.5-turbo", c.Model, "no stop chunk is sent for the failed model")
			}
		})
	}
}

func TestStreamChat_TruncatedTailLogged(t *testing.T) {
	ft := newFakeTransport()
	ft.streams["gpt-4"] = "data: {\"id\":\"c-gpt4\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n" +
		`data: {"id":"c`
	p := newMockOpenAI(t, ft)
	p.On("Models", mock.Anything).Return([]api.Model{openAIModel("gpt-4")}, nil)

	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	svc := NewService(NewRegistry(memory.NewMemoryCache(), []llm.Provider{p}, logger), logger)

	ch, err := svc.StreamChat(context.Background(), chatRequest("gpt-4", true))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Hi", chunks[0].Choices[0].Delta.Content.Text)
	assert.Equal(t, "stop", *chunks[1].Choices[0].FinishReason)

	dropped := logs.FilterMessage("Dropped stream frame").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(len(`{"id":"c`)), dropped[0].ContextMap()["frame_bytes"])
}

func TestStreamChat_SynthesizedProvider(t *testing.T) {
	ft := newFakeTransport()
	ft.bodies["chat-bison-001"] = `{"candidates":[{"content":"Hello world"}],"messages":[{"content":"Hi"}]}`
	palm, err := google.NewAdapter(config.ProviderConfig{APIKey: "k"}, llm.Deps{Transport: ft})
	require.NoError(t, err)

	f := newFixture(t, palm)

	ch, err := f.service.StreamChat(context.Background(), chatRequest("chat-bison-001", true))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 3)
	var sb strings.Builder
	for i, c := range chunks {
		sb.WriteString(c.Choices[0].Delta.Content.Text)
		if i < len(chunks)-1 {
			assert.Nil(t, c.Choices[0].FinishReason)
		}
	}
	assert.Equal(t, "Hello world", sb.String())
	assert.Equal(t, "stop", *chunks[2].Choices[0].FinishReason)
	assert.Equal(t, []string{"chat-bison-001"}, ft.Calls(), "synthesized streams use a unary call")
}

func TestStreamChat_PacedProvider(t *testing.T) {
	ft := newFakeTransport()
	ft.streams["gpt-35-turbo"] = gpt4Stream
	delay := 20 * time.Millisecond
	az, err := azure.NewAdapter(config.ProviderConfig{
		FrameDelay: delay,
		Resources:  []config.Deployment{{Resource: "eastus", Key: "k", Models: []string{"gpt-35-turbo"}}},
	}, llm.Deps{Transport: ft})
	require.NoError(t, err)

	f := newFixture(t, az)

	start := time.Now()
	ch, err := f.service.StreamChat(context.Background(), chatRequest("gpt-35-turbo", true))
	require.NoError(t, err)
	chunks := drain(ch)

	require.Len(t, chunks, 2)
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestRefreshModels_HidesRoutingMetadata(t *testing.T) {
	az, err := azure.NewAdapter(config.ProviderConfig{
		Resources: []config.Deployment{{Resource: "eastus", Key: "k", Models: []string{"gpt-35-turbo"}}},
	}, llm.Deps{Transport: newFakeTransport()})
	require.NoError(t, err)
	f := newFixture(t, az)

	models, err := f.service.RefreshModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)
	for _, m := range models {
		assert.Empty(t, m.Resource)
	}
}
