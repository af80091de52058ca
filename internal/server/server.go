package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/analytics"
	"github.com/Dolores18/api-manager/internal/config"
	"github.com/Dolores18/api-manager/internal/gateway"
	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/server/middleware"
	"github.com/Dolores18/api-manager/internal/store"
	"github.com/Dolores18/api-manager/internal/store/cache"
)

type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger

	service  gateway.Service
	registry *registry.Registry
	repo     store.Repository
	cache    cache.CacheService
	pricing  *pricing.Engine
	ledger   *analytics.Ledger
	client   httpclient.HTTPClient
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, reg *registry.Registry, repo store.Repository, c cache.CacheService, engine *pricing.Engine, ledger *analytics.Ledger, client httpclient.HTTPClient) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Tracing("api-manager"))
	router.Use(middleware.RequestID())

	s := &Server{
		router:   router,
		config:   cfg,
		logger:   logger,
		service:  service,
		registry: reg,
		repo:     repo,
		cache:    c,
		pricing:  engine,
		ledger:   ledger,
		client:   client,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
