package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/onellm-router/internal/server/middleware"
	v1 "github.com/nulzo/onellm-router/internal/server/v1"
	"github.com/nulzo/onellm-router/internal/server/validator"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.Metrics())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.info.Version, s.info.Providers)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.config.Server.APIKey))
	if rl := s.config.RateLimit; rl.Enabled {
		api.Use(middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst, s.logger).Middleware())
	}
	{
		chatHandler := v1.NewChatHandler(s.service, validator.New())
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelsHandler := v1.NewModelHandler(s.service)
		api.GET("/models", modelsHandler.ListModels)
		api.POST("/models", modelsHandler.ListModels)
	}
}
