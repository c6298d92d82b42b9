package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
  "github.com/genoplot/genoplot-backend/internal/handlers"
  "github.com/genoplot/genoplot-backend/internal/middleware"
)

type RouterConfig struct {
  SampleHandler     *handlers.SampleHandler
  PanelHandler      *handlers.PanelHandler
  TokenMiddleware   *middleware.TokenMiddleware
  AllowOrigins      []string
  ServiceName       string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  serviceName := cfg.ServiceName
  if serviceName == "" {
    serviceName = "genoplot-backend"
  }
  router.Use(otelgin.Middleware(serviceName))
  router.Use(middleware.AttachTraceContext())

  // Cors
  origins := cfg.AllowOrigins
  if len(origins) == 0 {
    origins = []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5173",
    }
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     origins,
    AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)
  api := router.Group("/api")
  {
    api.GET("/model", cfg.PanelHandler.GetModel)
    api.GET("/panel/populations", cfg.PanelHandler.GetPopulations)
    api.GET("/panel/projection", cfg.PanelHandler.GetProjection)
    api.GET("/panel/plot.png", cfg.PanelHandler.PlotPNG)
    api.POST("/samples", cfg.SampleHandler.Upload)
  }

// ===============
// || Protected ||
// ===============
  protected := router.Group("/api")
  protected.Use(cfg.TokenMiddleware.RequireSampleToken())
  protected.GET("/samples/:id", cfg.SampleHandler.Get)
  protected.GET("/samples/:id/plot", cfg.SampleHandler.Plot)
  protected.GET("/samples/:id/plot.png", cfg.SampleHandler.PlotPNG)
  protected.DELETE("/samples/:id", cfg.SampleHandler.Delete)

  return router
}
