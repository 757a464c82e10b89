package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emcare/forms/internal/config"
	"github.com/emcare/forms/internal/domain/forms"
	"github.com/emcare/forms/internal/platform/auth"
	"github.com/emcare/forms/internal/platform/db"
	"github.com/emcare/forms/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "forms-server",
		Short:        "EMCare form preparation and extraction service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(prepareCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(valueSetsCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the forms API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise service")
	}
	defer a.Close()

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("default_topic", cfg.DefaultTopic).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with middleware and routes for a.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Location"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.LargeBodyLimit,
		"/api/v1/forms/:topic/$extract",
		"/fhir/ValueSet",
	))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", a.health)

	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	forms.NewHandler(a.preparer, a.jobs, "/api/v1"+forms.AsyncPath,
		forms.WithDefaultTopic(a.defaultTopic),
	).RegisterRoutes(apiV1)
	a.valueSetHandler().RegisterRoutes(fhirGroup)

	return e
}

func (a *app) health(c echo.Context) error {
	status := map[string]interface{}{
		"status":        "ok",
		"version":       version,
		"asset_backend": a.cfg.AssetBackend,
		"default_topic": string(a.defaultTopic),
		"fhir_server":   a.cfg.FHIRServerURL,
	}
	if a.pool != nil {
		if err := db.Check(c.Request().Context(), a.pool); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		status["database"] = db.GetPoolStats(a.pool)
	}
	return c.JSON(http.StatusOK, status)
}
