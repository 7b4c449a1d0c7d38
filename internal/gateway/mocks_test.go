package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing/iotest"

	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/stretchr/testify/mock"
)

// MockProvider wraps a real adapter and mocks its discovery.
type MockProvider struct {
	llm.Provider
	mock.Mock
}

func (m *MockProvider) Models(ctx context.Context) ([]api.Model, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]api.Model), args.Error(1)
}

// fakeTransport answers upstream calls from canned bodies keyed by target
// model. Streams are delivered one byte per read.
type fakeTransport struct {
	mu      sync.Mutex
	bodies  map[string]string
	streams map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		bodies:  make(map[string]string),
		streams: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func targetModel(req *httpclient.Request) string {
	if r, ok := req.Body.(*api.ChatRequest); ok {
		return r.Model
	}
	// Other bodies name the model in a "model" field when they have one.
	if raw, err := json.Marshal(req.Body); err == nil {
		var named struct {
			Model string `json:"model"`
		}
		if json.Unmarshal(raw, &named) == nil && named.Model != "" {
			return named.Model
		}
	}
	// PaLM puts the model in the path: .../models/<id>:<method>
	path := req.URL[strings.LastIndex(req.URL, "/models/")+len("/models/"):]
	return strings.SplitN(path, ":", 2)[0]
}

func (f *fakeTransport) record(req *httpclient.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	model := targetModel(req)
	f.calls = append(f.calls, model)
	return model
}

func (f *fakeTransport) Send(ctx context.Context, req *httpclient.Request) ([]byte, error) {
	model := f.record(req)
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[model]
	if !ok {
		return nil, errors.New("no canned body for " + model)
	}
	return []byte(body), nil
}

func (f *fakeTransport) Stream(ctx context.Context, req *httpclient.Request) (io.ReadCloser, error) {
	model := f.record(req)
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	body, ok := f.streams[model]
	if !ok {
		return nil, errors.New("no canned stream for " + model)
	}
	return io.NopCloser(iotest.OneByteReader(strings.NewReader(body))), nil
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
