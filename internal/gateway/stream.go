package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/platform/metrics"
	"github.com/nulzo/onellm-router/internal/platform/otel"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const readBufferSize = 4 << 10

// errClientGone stops a model's pump once the outbound stream is closed.
var errClientGone = errors.New("client disconnected")

func (s *service) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan *api.ChatResponse, error) {
	ids := req.ModelIDs()
	if len(ids) == 0 {
		return nil, ErrNoModels
	}
	metrics.FanoutWidth.Observe(float64(len(ids)))

	out := make(chan *api.ChatResponse)

	go func() {
		defer close(out)

		ctx, span := otel.Tracer().Start(ctx, "gateway.StreamChat",
			trace.WithAttributes(attribute.StringSlice("llm.models", ids)))
		defer span.End()

		for _, id := range ids {
			w := &chunkWriter{ctx: ctx, out: out, model: id, id: "chatcmpl-" + uuid.NewString(), created: s.now().Unix()}

			err := s.streamModel(ctx, id, req, w)
			if errors.Is(err, errClientGone) {
				s.logger.Info("Client went away, stopping fan-out", zap.String("model", id))
				return
			}
			if err != nil {
				s.logger.Warn("Model stream failed", zap.String("model", id), zap.Error(err))
				if !w.fail(id, err) {
					return
				}
				continue
			}
			if !w.terminal && !w.finish() {
				return
			}
		}
	}()

	return out, nil
}

// streamModel pumps one model's deltas through w.
func (s *service) streamModel(ctx context.Context, id string, req *api.ChatRequest, w *chunkWriter) (err error) {
	if ctx.Err() != nil {
		return errClientGone
	}

	model, p, err := s.route(ctx, id)
	if err != nil {
		return err
	}

	ctx, span := s.startModelSpan(ctx, model)
	start := time.Now()
	defer func() {
		if errors.Is(err, errClientGone) {
			s.observe(span, model, start, nil)
			return
		}
		s.observe(span, model, start, err)
	}()

	if pacer, ok := p.(llm.Pacer); ok {
		w.delay = pacer.FrameDelay()
	}

	if synth, ok := p.(llm.Synthesizer); ok {
		return s.synthesize(ctx, model, p, synth, req, w)
	}

	upstream, err := p.BuildRequest(ctx, req.ForModel(model.ID, true), model)
	if err != nil {
		return err
	}

	body, err := p.Transport().Stream(context.WithoutCancel(ctx), upstream)
	if err != nil {
		return llm.NewUpstreamError(model.Provider, model.ID, err)
	}
	defer func() {
		_ = body.Close()
	}()

	dec := p.NewDecoder(model, s.decodeErrors(model))
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := w.deltas(dec.Decode(buf[:n])); err != nil {
				return err
			}
			if err := dec.Err(); err != nil {
				return streamFailure(model, err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return llm.NewUpstreamError(model.Provider, model.ID, readErr)
		}
	}
	if err := w.deltas(dec.Flush()); err != nil {
		return err
	}
	if err := dec.Err(); err != nil {
		return streamFailure(model, err)
	}
	w.terminal = dec.Terminal()
	return nil
}

// streamFailure attributes an error reported inside a stream to model.
func streamFailure(model api.Model, err error) error {
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Model == "" {
			upErr.Model = model.ID
		}
		return upErr
	}
	return llm.NewUpstreamError(model.Provider, model.ID, err)
}

// synthesize answers a streamed request from an upstream that cannot stream.
func (s *service) synthesize(ctx context.Context, model api.Model, p llm.Provider, synth llm.Synthesizer, req *api.ChatRequest, w *chunkWriter) error {
	upstream, err := p.BuildRequest(ctx, req.ForModel(model.ID, false), model)
	if err != nil {
		return err
	}

	body, err := p.Transport().Send(context.WithoutCancel(ctx), upstream)
	if err != nil {
		return llm.NewUpstreamError(model.Provider, model.ID, err)
	}

	resp, err := p.Normalize(body, model)
	if err != nil {
		return err
	}

	deltas := synth.Synthesize(resp)
	if err := w.deltas(deltas); err != nil {
		return err
	}
	w.terminal = len(deltas) > 0 && deltas[len(deltas)-1].Terminal()
	return nil
}

// chunkWriter turns one model's deltas into outbound chunks.
type chunkWriter struct {
	ctx     context.Context
	out     chan<- *api.ChatResponse
	model   string
	id      string
	created int64
	delay   time.Duration

	terminal bool
	sent     int
}

func (w *chunkWriter) send(chunk *api.ChatResponse) bool {
	if w.delay > 0 && w.sent > 0 {
		t := time.NewTimer(w.delay)
		select {
		case <-t.C:
		case <-w.ctx.Done():
			t.Stop()
			return false
		}
	}

	select {
	case w.out <- chunk:
		w.sent++
		return true
	case <-w.ctx.Done():
		return false
	}
}

func (w *chunkWriter) deltas(ds []llm.Delta) error {
	for _, d := range ds {
		if !w.send(w.chunk(d)) {
			return errClientGone
		}
	}
	return nil
}

func (w *chunkWriter) chunk(d llm.Delta) *api.ChatResponse {
	id, created := w.id, w.created
	if d.ID != "" {
		id = d.ID
	}
	if d.Created != 0 {
		created = d.Created
	}
	return &api.ChatResponse{
		ID:      id,
		Object:  api.ObjectChunk,
		Created: created,
		Model:   w.model,
		Choices: []api.Choice{{
			Index: d.Index,
			Delta: &api.ChatMessage{
				Role:         d.Role,
				Content:      api.Content{Text: d.Content},
				FunctionCall: d.FunctionCall,
			},
			FinishReason: d.FinishReason,
		}},
	}
}

// finish closes a model whose stream ended without a finish reason.
func (w *chunkWriter) finish() bool {
	return w.send(w.chunk(llm.Delta{FinishReason: api.Reason(api.FinishStop)}))
}

// fail emits the inline error marker for a failed model.
func (w *chunkWriter) fail(id string, err error) bool {
	chunk := w.chunk(llm.Delta{FinishReason: api.Reason(api.FinishError)})
	chunk.Choices[0].Error = &api.ErrorResponse{
		Code:    errorCode(err),
		Message: failureMessage(id, err),
		Model:   id,
	}
	return w.send(chunk)
}

func errorCode(err error) interface{} {
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return upErr.StatusCode
	}
	var resErr *llm.ResolutionError
	if errors.As(err, &resErr) {
		return "model_not_found"
	}
	var cfgErr *llm.ConfigurationError
	if errors.As(err, &cfgErr) {
		return "provider_misconfigured"
	}
	return nil
}
