package llm

import (
	"errors"
	"fmt"

	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/pkg/api"
)

// ConfigurationError means a provider is missing metadata it needs to build a request.
type ConfigurationError struct {
	Provider api.ProviderKind
	Model    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: cannot call %s: %s", e.Provider, e.Model, e.Reason)
}

// UpstreamError is a failed upstream call: a non-2xx status, a body that
// does not parse, or an error object inside an otherwise successful answer.
type UpstreamError struct {
	Provider   api.ProviderKind
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream returned %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s upstream: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError classifies a transport failure for kind/model.
func NewUpstreamError(kind api.ProviderKind, model string, err error) *UpstreamError {
	var statusErr *httpclient.UpstreamError
	if errors.As(err, &statusErr) {
		return &UpstreamError{
			Provider:   kind,
			Model:      model,
			StatusCode: statusErr.StatusCode,
			Message:    statusErr.Message(),
			Err:        err,
		}
	}
	return &UpstreamError{Provider: kind, Model: model, Message: err.Error(), Err: err}
}

// DecodeError is a stream frame that could not be parsed. It is logged and
// the frame dropped; the stream carries on.
type DecodeError struct {
	Provider api.ProviderKind
	Frame    string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: undecodable frame %q: %v", e.Provider, truncate(e.Frame, 120), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ResolutionError means no provider serves the requested model id.
type ResolutionError struct {
	Model string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("model %s not found", e.Model)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
