package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/onellm-router/pkg/api"
)

type HealthHandler struct {
	startTime time.Time
	version   string
	providers []api.ProviderKind
}

func NewHealthHandler(version string, providers []api.ProviderKind) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		providers: providers,
	}
}

// Health returns the health status and uptime of the API.
//
// This endpoint is used by load balancers and monitoring systems
// to verify the service is running.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   h.version,
		"providers": h.providers,
		"uptime":    time.Since(h.startTime).String(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}
