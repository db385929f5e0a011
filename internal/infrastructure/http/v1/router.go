// Package v1 provides the admin HTTP API.
package v1

import (
	"github.com/gin-gonic/gin"

	"replica/internal/domain/auth"
	"replica/internal/infrastructure/http/v1/handlers"
	"replica/internal/infrastructure/http/v1/middleware"
	"replica/pkg/logger"
)

// RouterConfig holds the router dependencies.
type RouterConfig struct {
	Logger *logger.Logger
	// Tokens enables bearer authentication on /api/v1 when set.
	Tokens middleware.TokenValidator
	Tasks  handlers.Tasks
	// Checks are run by the readiness probe.
	Checks map[string]handlers.Check
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Order matters: errors are rendered before the logger records the status.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	health := handlers.NewHealthHandler(cfg.Checks)
	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	api := router.Group("/api/v1")
	if cfg.Tokens != nil {
		api.Use(middleware.Auth(cfg.Tokens))
	}

	tasks := handlers.NewTaskHandler(cfg.Tasks)
	read := api.Group("/tasks", middleware.RequireScope(auth.ScopeRead))
	{
		read.GET("", tasks.List)
		read.GET("/:name", tasks.Get)
		read.GET("/:name/ping", tasks.Ping)
	}
	write := api.Group("/tasks", middleware.RequireScope(auth.ScopeWrite))
	{
		write.POST("/:name/start", tasks.Start)
		write.POST("/:name/stop", tasks.Stop)
		write.POST("/:name/restart", tasks.Restart)
	}

	return router
}
