package server

import (
	"github.com/Dolores18/api-manager/internal/server/middleware"
	v1 "github.com/Dolores18/api-manager/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)

	healthHandler := v1.NewHealthHandler(s.registry)
	s.router.GET("/health", healthHandler.Health)

	chatHandler := v1.NewChatHandler(s.service)
	completions := s.router.Group("/v1")
	completions.Use(limiter.Middleware())
	{
		completions.POST("/chat/completions", chatHandler.CreateCompletion)
	}

	providerHandler := v1.NewProviderHandler(s.logger, s.registry, s.repo, s.cache, s.client, s.config.Router.DefaultMinBalance)
	pricingHandler := v1.NewPricingHandler(s.pricing)
	usageHandler := v1.NewUsageHandler(s.ledger)

	admin := s.router.Group("/admin")
	admin.Use(middleware.AdminAuth(s.config.Server.AdminKeys))
	{
		admin.GET("/providers", providerHandler.List)
		admin.POST("/providers", providerHandler.Create)
		admin.POST("/providers/batch", providerHandler.BatchCreate)
		admin.DELETE("/providers/:id", providerHandler.Deactivate)
		admin.GET("/providers/health", providerHandler.Health)

		admin.GET("/pricing", pricingHandler.List)
		admin.PUT("/pricing", pricingHandler.Update)
		admin.GET("/pricing/history", pricingHandler.History)

		admin.GET("/usage/summary", usageHandler.Summary)
		admin.GET("/usage/recent", usageHandler.Recent)
	}
}
