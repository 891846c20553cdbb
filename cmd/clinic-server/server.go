package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/registry/internal/config"
	"github.com/clinic/registry/internal/domain/patient"
	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/auth"
	"github.com/clinic/registry/internal/platform/metrics"
	"github.com/clinic/registry/internal/platform/middleware"
	"github.com/clinic/registry/internal/platform/reporting"
	"github.com/clinic/registry/internal/platform/telemetry"
	"github.com/clinic/registry/internal/platform/websocket"
)

const (
	version     = "1.0.0"
	bodyLimit   = "1M"
	serviceName = "clinic-registry"
)

// server holds everything the HTTP surface is assembled from.
type server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	patients *patient.Service
	reports  reporting.Store
	dbHealth echo.HandlerFunc
	creds    auth.CredentialStore
	sessions auth.SessionStore
	tokens   *auth.Tokens
	hub      *websocket.Hub
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(s.logger, s.cfg.IsDev())

	// Global middleware
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.Metrics(s.metrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(s.logger))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(telemetry.Middleware())

	// Auth middleware
	if s.cfg.AuthEnabled {
		e.Use(auth.Middleware(s.tokens, s.sessions))
	} else {
		s.logger.Warn().Msg("authentication disabled, every request runs as admin")
		e.Use(auth.DevMiddleware())
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	e.GET("/health/db", s.dbHealth)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	// Auth
	authHandler := auth.NewHandler(s.creds, s.sessions, s.tokens, s.cfg.SessionTTL)
	authHandler.SetMetrics(s.metrics)
	authHandler.SetLogger(s.logger)
	authHandler.RegisterRoutes(e.Group("/auth", middleware.RateLimit(middleware.LoginRateLimitConfig())))

	// API
	api := e.Group("/api")
	patient.NewHandler(s.patients).RegisterRoutes(api)
	reporting.NewHandler(s.reports).RegisterRoutes(api)
	if s.hub != nil {
		websocket.NewHandler(s.hub, s.cfg.CORSOrigins).RegisterRoutes(api)
	}

	return e
}
