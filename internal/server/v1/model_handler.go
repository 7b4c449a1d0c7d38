package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/pkg/api"
)

type ModelHandler struct {
	service gateway.Service
}

func NewModelHandler(service gateway.Service) *ModelHandler {
	return &ModelHandler{service: service}
}

// ListModels answers GET and POST /v1/models. refresh=true rediscovers
// every provider's models before listing.
func (h *ModelHandler) ListModels(c *gin.Context) {
	filter := api.ModelFilter{
		Provider: c.Query("provider"),
		ID:       c.Query("id"),
		OwnedBy:  c.Query("owned_by"),
	}

	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		if _, err := h.service.RefreshModels(c.Request.Context()); err != nil {
			_ = c.Error(api.InternalError("Failed to refresh models", err))
			return
		}
	}

	models, err := h.service.ListModels(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to list models", err))
		return
	}

	c.JSON(http.StatusOK, api.ModelList{
		Object: "list",
		Data:   models,
	})
}
