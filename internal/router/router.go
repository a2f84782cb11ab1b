package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/handlers"
	"github.com/imyashkale/hera/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by Setup
type Handlers struct {
	Health      *handlers.HealthHandler
	Deployments *handlers.DeploymentHandler
	Domains     *handlers.DomainHandler
	Artifacts   *handlers.ArtifactHandler
}

// Setup configures and returns the application router
func Setup(jwtSecret string, corsOrigins []string, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(corsOrigins))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Health check stays outside authentication
	v1.GET("/health", h.Health.Check)

	authed := v1.Group("")
	authed.Use(middleware.Authentication(jwtSecret))

	deployments := authed.Group("/deployments")
	{
		deployments.POST("", h.Deployments.Create)
		deployments.GET("", h.Deployments.List)
		deployments.GET("/:id", h.Deployments.Get)
		deployments.GET("/:id/progress", h.Deployments.Progress)
		deployments.PATCH("/:id", h.Deployments.Update)
		deployments.POST("/:id/suspend", h.Deployments.Suspend)
		deployments.POST("/:id/resume", h.Deployments.Resume)
		deployments.DELETE("/:id", h.Deployments.Delete)
	}

	domains := authed.Group("/domains")
	{
		domains.POST("", h.Domains.Add)
		domains.GET("", h.Domains.List)
		domains.GET("/:id", h.Domains.Get)
		domains.GET("/:id/records", h.Domains.Records)
		domains.POST("/:id/verify", h.Domains.Verify)
		domains.DELETE("/:id", h.Domains.Delete)
	}

	artifacts := authed.Group("/artifacts")
	{
		artifacts.POST("/invalidate", h.Artifacts.Invalidate)
		artifacts.GET("/:industry", h.Artifacts.List)
		artifacts.GET("/:industry/:id", h.Artifacts.Get)
		artifacts.PUT("/:industry/:id", h.Artifacts.Put)
	}

	return router
}
