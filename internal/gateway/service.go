package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nulzo/onellm-router/internal/llm"
	"github.com/nulzo/onellm-router/internal/platform/metrics"
	"github.com/nulzo/onellm-router/internal/platform/otel"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNoModels is returned when the model field names no ids at all.
var ErrNoModels = errors.New("model must name at least one model id")

// Service fans a chat request out to every model it names.
type Service interface {
	// Chat calls each model in order and merges the answers. Per-model
	// failures are reported in the merged errors list, never returned.
	Chat(ctx context.Context, req *api.ChatRequest) (*api.MergedResponse, error)

	// StreamChat pumps each model's deltas, one model after the other, onto
	// the returned channel. The channel is closed after the last model or
	// once ctx is done.
	StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan *api.ChatResponse, error)

	ListModels(ctx context.Context, filter api.ModelFilter) ([]api.Model, error)
	RefreshModels(ctx context.Context) ([]api.Model, error)
}

type service struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(registry *Registry, logger *zap.Logger) Service {
	return &service{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) ListModels(ctx context.Context, filter api.ModelFilter) ([]api.Model, error) {
	models, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return public(models), nil
}

func (s *service) RefreshModels(ctx context.Context) ([]api.Model, error) {
	s.registry.Refresh(ctx)
	return s.ListModels(ctx, api.ModelFilter{})
}

func public(models []api.Model) []api.Model {
	out := make([]api.Model, len(models))
	for i, m := range models {
		out[i] = m.Public()
	}
	return out
}

func (s *service) Chat(ctx context.Context, req *api.ChatRequest) (*api.MergedResponse, error) {
	ids := req.ModelIDs()
	if len(ids) == 0 {
		return nil, ErrNoModels
	}
	metrics.FanoutWidth.Observe(float64(len(ids)))

	ctx, span := otel.Tracer().Start(ctx, "gateway.Chat",
		trace.WithAttributes(attribute.StringSlice("llm.models", ids)))
	defer span.End()

	m := newMerger(req.Model, s.now())
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := s.complete(ctx, id, req)
		if err != nil {
			s.logger.Warn("Model call failed", zap.String("model", id), zap.Error(err))
			m.fail(id, err)
			continue
		}
		m.add(resp)
	}

	out := m.result()
	span.SetAttributes(
		attribute.Int("llm.choices", len(out.Choices)),
		attribute.Int("llm.errors", len(out.Errors)),
	)
	return out, nil
}

// route resolves id and finds the adapter serving it.
func (s *service) route(ctx context.Context, id string) (api.Model, llm.Provider, error) {
	model, err := s.registry.Resolve(ctx, id)
	if err != nil {
		return api.Model{}, nil, err
	}
	p, ok := s.registry.Provider(model.Provider)
	if !ok {
		return api.Model{}, nil, &llm.ConfigurationError{Provider: model.Provider, Model: id, Reason: "provider is not enabled"}
	}
	return model, p, nil
}

// complete runs one unary upstream call. The call is detached from ctx
// cancellation so it is never cut off half way.
func (s *service) complete(ctx context.Context, id string, req *api.ChatRequest) (resp *api.ChatResponse, err error) {
	model, p, err := s.route(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startModelSpan(ctx, model)
	start := time.Now()
	defer func() { s.observe(span, model, start, err) }()

	upstream, err := p.BuildRequest(ctx, req.ForModel(model.ID, false), model)
	if err != nil {
		return nil, err
	}

	body, err := p.Transport().Send(context.WithoutCancel(ctx), upstream)
	if err != nil {
		return nil, llm.NewUpstreamError(model.Provider, model.ID, err)
	}

	resp, err = p.Normalize(body, model)
	if err != nil {
		return nil, err
	}
	if resp.Usage != nil {
		metrics.ProviderTokensTotal.WithLabelValues(string(model.Provider), "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.ProviderTokensTotal.WithLabelValues(string(model.Provider), "completion").Add(float64(resp.Usage.CompletionTokens))
	}
	return resp, nil
}

func (s *service) startModelSpan(ctx context.Context, model api.Model) (context.Context, trace.Span) {
	return otel.Tracer().Start(ctx, "gateway.model",
		trace.WithAttributes(
			attribute.String("llm.provider", string(model.Provider)),
			attribute.String("llm.model", model.ID),
		))
}

func (s *service) observe(span trace.Span, model api.Model, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(model.Provider), model.ID, outcome).Inc()
	metrics.ProviderLatency.WithLabelValues(string(model.Provider)).Observe(time.Since(start).Seconds())
	span.End()
}

// decodeErrors logs and counts frames a decoder had to drop.
func (s *service) decodeErrors(model api.Model) llm.ErrorHandler {
	return func(err *llm.DecodeError) {
		metrics.DecodeErrorsTotal.WithLabelValues(string(err.Provider)).Inc()
		s.logger.Warn("Dropped stream frame",
			zap.String("provider", string(err.Provider)),
			zap.String("model", model.ID),
			zap.Int("frame_bytes", len(err.Frame)),
			zap.Error(err),
		)
	}
}

// failureMessage is the text reported for a failed model.
func failureMessage(id string, err error) string {
	return fmt.Sprintf("%s: %s", id, err.Error())
}
