package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	createTenantFn        func(ctx context.Context, destination, accessKey string) (*domain.Tenant, error)
	statusFn              func(ctx context.Context, accessKey string) (domain.TenantStatus, error)
	statusByDestinationFn func(ctx context.Context, destination string) (domain.TenantStatus, error)
	refreshKeyFn          func(ctx context.Context, accessKey string) (*domain.Tenant, error)
	initiateLoginFn       func(ctx context.Context, accessKey, identity string) error
	completeLoginFn       func(ctx context.Context, accessKey, identity, code string) error
	removeBotFn           func(ctx context.Context, accessKey string) error
	removeTenantFn        func(ctx context.Context, destination string) (bool, error)
	countsFn              func(ctx context.Context) (domain.Counts, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockAppService) CreateTenant(ctx context.Context, destination, accessKey string) (*domain.Tenant, error) {
	if m.createTenantFn != nil {
		return m.createTenantFn(ctx, destination, accessKey)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) Status(ctx context.Context, accessKey string) (domain.TenantStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, accessKey)
	}
	return domain.TenantStatus{}, domain.ErrTenantNotFound
}

func (m *mockAppService) StatusByDestination(ctx context.Context, destination string) (domain.TenantStatus, error) {
	if m.statusByDestinationFn != nil {
		return m.statusByDestinationFn(ctx, destination)
	}
	return domain.TenantStatus{}, domain.ErrTenantNotFound
}

func (m *mockAppService) RefreshKey(ctx context.Context, accessKey string) (*domain.Tenant, error) {
	if m.refreshKeyFn != nil {
		return m.refreshKeyFn(ctx, accessKey)
	}
	return nil, errNotImplemented
}

func (m *mockAppService) InitiateLogin(ctx context.Context, accessKey, identity string) error {
	if m.initiateLoginFn != nil {
		return m.initiateLoginFn(ctx, accessKey, identity)
	}
	return nil
}

func (m *mockAppService) CompleteLogin(ctx context.Context, accessKey, identity, code string) error {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, accessKey, identity, code)
	}
	return nil
}

func (m *mockAppService) RemoveBot(ctx context.Context, accessKey string) error {
	if m.removeBotFn != nil {
		return m.removeBotFn(ctx, accessKey)
	}
	return nil
}

func (m *mockAppService) RemoveTenant(ctx context.Context, destination string) (bool, error) {
	if m.removeTenantFn != nil {
		return m.removeTenantFn(ctx, destination)
	}
	return false, nil
}

func (m *mockAppService) Counts(ctx context.Context) (domain.Counts, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx)
	}
	return domain.Counts{}, nil
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		CORSAllowOrigins: []string{"*"},
		RateLimitPerSec:  1000,
		RateLimitBurst:   1000,
	}
}

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:   echo.New(),
		config: testConfig(),
		app:    app,
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withConfig(cfg *config.Config) func(*Server) {
	return func(s *Server) {
		s.config = cfg
	}
}

// doRequest routes a request through the full middleware chain.
func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var _ http.Handler = (*Server)(nil)
