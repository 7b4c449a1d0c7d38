package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/onellm-router/internal/config"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/internal/server/middleware"
	"github.com/nulzo/onellm-router/pkg/api"
	"go.uber.org/zap"
)

// Info describes the running build for the health endpoint.
type Info struct {
	Version   string
	Providers []api.ProviderKind
}

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service gateway.Service
	info    Info
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, info Info) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	}

	s := &Server{
		router:  engine,
		service: service,
		logger:  logger,
		config:  cfg,
		info:    info,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
