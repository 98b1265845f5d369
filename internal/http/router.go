package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/vizboard/vizboard-backend/internal/http/handlers"
	httpMW "github.com/vizboard/vizboard-backend/internal/http/middleware"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler        *httpH.HealthHandler
	VisualizationHandler *httpH.VisualizationHandler
	AccountHandler       *httpH.AccountHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("vizboard-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.VisualizationHandler != nil {
			api.POST("/visualizations", cfg.VisualizationHandler.Create)
			api.GET("/visualizations", cfg.VisualizationHandler.List)
			api.GET("/visualizations/:id", cfg.VisualizationHandler.Get)
			api.POST("/visualizations/:id/edit", cfg.VisualizationHandler.Edit)
			api.POST("/visualizations/:id/expand", cfg.VisualizationHandler.ExpandNode)
			api.PATCH("/visualizations/:id", cfg.VisualizationHandler.Rename)
			api.DELETE("/visualizations/:id", cfg.VisualizationHandler.Delete)
			api.GET("/visualizations/:id/export", cfg.VisualizationHandler.Export)
			api.POST("/visualizations/:id/share", cfg.VisualizationHandler.Share)
		}

		if cfg.AccountHandler != nil {
			api.GET("/account/usage", cfg.AccountHandler.GetUsage)
		}
	}

	return r
}
