package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/truenorthhq/truenorth-backend/internal/handlers"
	"github.com/truenorthhq/truenorth-backend/internal/middleware"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/envutil"
	"github.com/truenorthhq/truenorth-backend/internal/services"
)

type RouterConfig struct {
	AuthService    services.AuthService
	AuthHandler    *handlers.AuthHandler
	SessionHandler *handlers.SessionHandler
	ChatHandler    *handlers.ChatHandler
	IdeasHandler   *handlers.IdeasHandler
	Metrics        *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	origins := strings.Split(envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware(envutil.Str("OTEL_SERVICE_NAME", "truenorth")))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.Healthcheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", cfg.Metrics.Handler())
	}
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)
	router.POST("/refresh", cfg.AuthHandler.Refresh)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(middleware.RequireAuth(cfg.AuthService))
	// Auth
	protected.POST("/logout", cfg.AuthHandler.Logout)
	// Chat turn
	protected.POST("/functions/ft_chat", cfg.ChatHandler.Turn)
	// Sessions
	api := protected.Group("/api")
	api.GET("/sessions/current", cfg.SessionHandler.Current)
	api.POST("/sessions", cfg.SessionHandler.Create)
	api.GET("/sessions/:id", cfg.SessionHandler.Get)
	api.PATCH("/sessions/:id", cfg.SessionHandler.PatchStatus)
	api.GET("/sessions/:id/messages", cfg.SessionHandler.ListMessages)
	api.POST("/sessions/:id/ideas", cfg.IdeasHandler.Generate)

	return router
}
