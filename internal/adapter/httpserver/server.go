package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/config"
)

type appService interface {
	CreateTenant(ctx context.Context, destination, accessKey string) (*domain.Tenant, error)
	Status(ctx context.Context, accessKey string) (domain.TenantStatus, error)
	StatusByDestination(ctx context.Context, destination string) (domain.TenantStatus, error)
	RefreshKey(ctx context.Context, accessKey string) (*domain.Tenant, error)
	InitiateLogin(ctx context.Context, accessKey, identity string) error
	CompleteLogin(ctx context.Context, accessKey, identity, code string) error
	RemoveBot(ctx context.Context, accessKey string) error
	RemoveTenant(ctx context.Context, destination string) (bool, error)
	Counts(ctx context.Context) (domain.Counts, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app            appService
	metricsHandler http.Handler
	middlewares    []echo.MiddlewareFunc

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer builds the HTTP boundary. metricsHandler may be nil, in which
// case /metrics is not served. middlewares run after the built-in chain.
func NewServer(cfg *config.Config, app appService, healthChecks []HealthCheck, metricsHandler http.Handler, middlewares ...echo.MiddlewareFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		app:            app,
		metricsHandler: metricsHandler,
		middlewares:    middlewares,
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	addr := ":" + s.config.Port
	if s.config.TLSEnabled() {
		slog.Info("Starting server with TLS", "port", s.config.Port)
		if err := s.echo.StartTLS(addr, s.config.TLSCertFile, s.config.TLSKeyFile); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	}

	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
