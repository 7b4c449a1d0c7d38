package llm

import (
	"context"
	"io"
	"time"

	"github.com/nulzo/onellm-router/internal/httpclient"
	"github.com/nulzo/onellm-router/pkg/api"
)

// Transport carries built requests to the upstream.
// *httpclient.Client is the production implementation.
type Transport interface {
	Send(ctx context.Context, req *httpclient.Request) ([]byte, error)
	Stream(ctx context.Context, req *httpclient.Request) (io.ReadCloser, error)
}

// Provider translates between the canonical chat protocol and one upstream
// wire format. Providers never perform chat calls themselves; the gateway
// sends what BuildRequest produces and feeds the answer back through
// NewDecoder or Normalize.
type Provider interface {
	Kind() api.ProviderKind

	// Transport is the client requests for this provider are sent through.
	Transport() Transport

	// BuildRequest targets req at a single model. It fails with a
	// *ConfigurationError when routing metadata or credentials are missing.
	BuildRequest(ctx context.Context, req *api.ChatRequest, model api.Model) (*httpclient.Request, error)

	// NewDecoder returns fresh stream state for one upstream response.
	// onError receives frames that had to be dropped.
	NewDecoder(model api.Model, onError ErrorHandler) Decoder

	// Normalize converts a complete upstream JSON body.
	Normalize(body []byte, model api.Model) (*api.ChatResponse, error)

	// Models discovers the models this provider can serve, tagged with routing metadata.
	Models(ctx context.Context) ([]api.Model, error)
}

// Synthesizer is implemented by providers whose upstream cannot stream.
// The gateway fetches a full response and replays it as deltas.
type Synthesizer interface {
	Synthesize(resp *api.ChatResponse) []Delta
}

// Pacer is implemented by providers whose deltas are spaced out on the
// outbound stream.
type Pacer interface {
	FrameDelay() time.Duration
}

// ErrorHandler is told about stream frames that could not be decoded.
// Errors the upstream sends on purpose are not decode errors; see Decoder.Err.
type ErrorHandler func(err *DecodeError)

// Decoder is a resumable stream parser. Decode may be handed arbitrary
// slices of the byte stream; frames split across calls are buffered until
// complete.
type Decoder interface {
	Decode(chunk []byte) []Delta

	// Flush is called once at end of input and turns any buffered remainder
	// into best-effort deltas.
	Flush() []Delta

	// Terminal reports whether the last delta produced carried a finish reason.
	Terminal() bool

	// Err returns the failure the upstream reported inside the stream, as an
	// *UpstreamError. Nothing is decoded after it.
	Err() error
}

// Delta is one incremental piece of a choice.
type Delta struct {
	Index        int
	Role         string
	Content      string
	FunctionCall *api.FunctionCall
	FinishReason *string

	// Upstream identity, when the frame carried it.
	ID      string
	Created int64
}

func (d Delta) Terminal() bool {
	return d.FinishReason != nil
}
