package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/arcade-trade-api/internal/auth"
	"github.com/ksred/arcade-trade-api/internal/database"
	"github.com/ksred/arcade-trade-api/internal/dealing"
	"github.com/ksred/arcade-trade-api/internal/directory"
	"github.com/ksred/arcade-trade-api/internal/ledger"
	"github.com/ksred/arcade-trade-api/internal/negotiation"
	"github.com/ksred/arcade-trade-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trade API server with graceful shutdown support
// It sets up all required services, database connections, and API routes
func main() {
	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService("arcade-secret-key")
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials for the demo seller and buyer
	authService.RegisterAPICredentials(auth.TestSellerAPIKey, auth.TestSellerAPISecret, auth.TestSellerUserID)
	authService.RegisterAPICredentials(auth.TestBuyerAPIKey, auth.TestBuyerAPISecret, auth.TestBuyerUserID)
	if err := directory.Register(db, auth.TestSellerUserID, "Demo Seller KK"); err != nil {
		zlog.Warn().Err(err).Msg("Failed to register demo seller")
	}
	if err := directory.Register(db, auth.TestBuyerUserID, "Demo Buyer KK"); err != nil {
		zlog.Warn().Err(err).Msg("Failed to register demo buyer")
	}

	negotiationService := negotiation.NewService(db)
	negotiationHandlers := negotiation.NewGinHandlers(negotiationService)

	dealingService := dealing.NewService(db)
	dealingHandlers := dealing.NewGinHandlers(dealingService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, negotiationHandlers, dealingHandlers, ledgerHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Negotiation/dealing/ledger routes: Protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	negotiationHandlers *negotiation.GinHandlers,
	dealingHandlers *dealing.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Negotiation routes
		negotiations := v1.Group("/negotiations")
		negotiations.Use(middleware.JWTAuth())
		{
			negotiations.POST("", negotiationHandlers.CreateHandler())
			negotiations.GET("/:navi_id", negotiationHandlers.GetHandler())
			negotiations.PUT("/:navi_id/payload", negotiationHandlers.UpdatePayloadHandler())
			negotiations.PUT("/:navi_id/status", negotiationHandlers.UpdateStatusHandler())
		}

		// Dealing routes
		dealings := v1.Group("/dealings")
		dealings.Use(middleware.JWTAuth())
		{
			dealings.GET("/:dealing_id", dealingHandlers.GetHandler())
			dealings.GET("/:dealing_id/todo", dealingHandlers.TodoHandler())
			dealings.PUT("/:dealing_id/status", dealingHandlers.TransitionHandler())
		}

		// Ledger routes (read-only for end users; postings happen inside
		// the coordinators)
		ledgerGroup := v1.Group("/ledger")
		ledgerGroup.Use(middleware.JWTAuth())
		{
			ledgerGroup.GET("", ledgerHandlers.ListEntriesHandler())
		}
	}
}
