package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/truenorthhq/truenorth-backend/internal/clients/gateway"
	"github.com/truenorthhq/truenorth-backend/internal/clients/perplexity"
	redisclient "github.com/truenorthhq/truenorth-backend/internal/clients/redis"
	"github.com/truenorthhq/truenorth-backend/internal/data/db"
	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	"github.com/truenorthhq/truenorth-backend/internal/handlers"
	"github.com/truenorthhq/truenorth-backend/internal/intake"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/envutil"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
	"github.com/truenorthhq/truenorth-backend/internal/server"
	"github.com/truenorthhq/truenorth-backend/internal/services"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: envutil.Str("OTEL_SERVICE_NAME", "truenorth"),
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(ctx)
	}()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := envutil.Str("JWT_SECRET_KEY", "defaultsecret")
	accessTTL := envutil.Seconds("ACCESS_TOKEN_TTL", 1*time.Hour)
	refreshTTL := envutil.Seconds("REFRESH_TOKEN_TTL", 24*time.Hour)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	messageRepo := repos.NewMessageRepo(thePG, log)
	ideaReportRepo := repos.NewIdeaReportRepo(thePG, log)

	// Clients
	log.Info("Setting up Clients from main...")
	gatewayClient, err := gateway.NewClient(log)
	if err != nil {
		log.Error("Gateway client init failed", "error", err)
		os.Exit(1)
	}
	limiter, err := redisclient.NewRateLimiter(log)
	if err != nil {
		log.Warn("Rate limiter unavailable, chat turns will not be throttled", "error", err)
		limiter = nil
	}
	researchClient, err := perplexity.NewClient(log)
	if err != nil {
		log.Warn("Research client unavailable, idea reports will skip web research", "error", err)
		researchClient = nil
	}

	// Metrics
	metrics := observability.NewMetrics()

	// Services
	log.Info("Setting up Services from main...")
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, jwtSecretKey, accessTTL, refreshTTL)
	sessionService := services.NewSessionService(thePG, log, sessionRepo, messageRepo, metrics)
	turnService := services.NewTurnService(thePG, log, sessionRepo, messageRepo, userRepo, gatewayClient, limiter, intake.NewGenerationClassifier(), metrics)
	ideasService := services.NewIdeasService(thePG, log, sessionRepo, ideaReportRepo, gatewayClient, researchClient, metrics)
	abandonService := services.NewAbandonService(log, sessionRepo, metrics)

	// Abandonment sweep
	sweepEvery := envutil.Seconds("ABANDON_SWEEP_INTERVAL", 1*time.Hour)
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if _, err := abandonService.Sweep(dbctx.Context{Ctx: ctx}); err != nil {
				log.Warn("Abandonment sweep failed", "error", err)
			}
			cancel()
		}
	}()

	// Handlers
	log.Info("Setting up Handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	chatHandler := handlers.NewChatHandler(turnService)
	ideasHandler := handlers.NewIdeasHandler(ideasService)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthService:    authService,
		AuthHandler:    authHandler,
		SessionHandler: sessionHandler,
		ChatHandler:    chatHandler,
		IdeasHandler:   ideasHandler,
		Metrics:        metrics,
	})

	port := envutil.Str("PORT", "8080")
	log.Info("Starting server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
