package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/internal/platform/metrics"
	"github.com/nulzo/onellm-router/internal/server/validator"
	"github.com/nulzo/onellm-router/pkg/api"
)

const doneEvent = "data: [DONE]\n\n"

type ChatHandler struct {
	service   gateway.Service
	validator *validator.Validator
}

func NewChatHandler(service gateway.Service, v *validator.Validator) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: v,
	}
}

// CreateCompletion answers POST /v1/chat/completions. The model field may
// list several ids; per-model failures never fail the request.
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// returns RFC compliant error
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}
	if len(req.ModelIDs()) == 0 {
		_ = c.Error(api.ValidationError(map[string]string{"model": gateway.ErrNoModels.Error()}))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, gateway.ErrNoModels) {
		_ = c.Error(api.ValidationError(map[string]string{"model": err.Error()}))
		return
	}
	_ = c.Error(api.InternalError("Failed to process chat request", err))
}

func (h *ChatHandler) handleStream(c *gin.Context, req *api.ChatRequest) {
	streamChan, err := h.service.StreamChat(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-streamChan
		if !ok {
			_, _ = io.WriteString(w, doneEvent)
			return false
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			return true
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}
