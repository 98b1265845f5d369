package app

import (
	"github.com/gin-gonic/gin"

	"github.com/vizboard/vizboard-backend/internal/http"
	httpH "github.com/vizboard/vizboard-backend/internal/http/handlers"
	httpMW "github.com/vizboard/vizboard-backend/internal/http/middleware"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health        *httpH.HealthHandler
	Visualization *httpH.VisualizationHandler
	Account       *httpH.AccountHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:        httpH.NewHealthHandler(),
		Visualization: httpH.NewVisualizationHandler(services.Visualization),
		Account:       httpH.NewAccountHandler(services.Admission),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:                  log,
		AuthMiddleware:       middleware.Auth,
		HealthHandler:        handlers.Health,
		VisualizationHandler: handlers.Visualization,
		AccountHandler:       handlers.Account,
	})
}
