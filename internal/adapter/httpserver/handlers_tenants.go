package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
	apperrors "github.com/pscheid92/giftclaim/internal/platform/errors"
)

type createTenantRequest struct {
	Destination string `json:"destination"`
	AccessKey   string `json:"access_key"`
}

type initiateLoginRequest struct {
	Identity string `json:"identity"`
}

type completeLoginRequest struct {
	Code     string `json:"code"`
	Identity string `json:"identity"`
}

type tenantResponse struct {
	Destination      string     `json:"destination"`
	KeyExpiresAt     time.Time  `json:"key_expires_at"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
}

func toTenantResponse(t *domain.Tenant) tenantResponse {
	resp := tenantResponse{Destination: t.Destination, KeyExpiresAt: t.KeyExpiresAt}
	if t.Bot != nil && t.Bot.State == domain.SessionAuthenticated {
		at := t.Bot.ExpiresAt
		resp.SessionExpiresAt = &at
	}
	return resp
}

func (s *Server) registerTenantRoutes(limiter echo.MiddlewareFunc) {
	g := s.echo.Group("", limiter)

	g.POST("/tenants", s.handleCreateTenant)
	g.GET("/tenants/:accessKey/status", s.handleStatus, tenantContext)
	g.POST("/tenants/:accessKey/refresh", s.handleRefreshKey, tenantContext)
	g.POST("/tenants/:accessKey/login", s.handleInitiateLogin, tenantContext)
	g.POST("/tenants/:accessKey/login/complete", s.handleCompleteLogin, tenantContext)
	g.DELETE("/tenants/:accessKey/bot", s.handleRemoveBot, tenantContext)

	g.GET("/status-by-destination/:destination", s.handleStatusByDestination)
	g.DELETE("/destinations/:destination", s.handleRemoveTenant)
	g.GET("/stats", s.handleStats)
}

// tenantContext tags the request context with the path's access key so log
// lines carry its masked form.
func tenantContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithTenant(c.Request().Context(), c.Param("accessKey"))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	var req createTenantRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.Destination = strings.TrimSpace(req.Destination)
	req.AccessKey = strings.TrimSpace(req.AccessKey)
	if req.AccessKey == "" {
		return apperrors.ValidationError("access_key is required")
	}

	ctx := correlation.WithTenant(c.Request().Context(), req.AccessKey)
	tenant, err := s.app.CreateTenant(ctx, req.Destination, req.AccessKey)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, toTenantResponse(tenant)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.app.Status(c.Request().Context(), c.Param("accessKey"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStatusByDestination(c echo.Context) error {
	status, err := s.app.StatusByDestination(c.Request().Context(), c.Param("destination"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRefreshKey(c echo.Context) error {
	tenant, err := s.app.RefreshKey(c.Request().Context(), c.Param("accessKey"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, toTenantResponse(tenant)); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleInitiateLogin(c echo.Context) error {
	var req initiateLoginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	identity := strings.TrimSpace(req.Identity)
	if err := s.app.InitiateLogin(c.Request().Context(), c.Param("accessKey"), identity); err != nil {
		return err
	}

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "code_sent"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCompleteLogin(c echo.Context) error {
	var req completeLoginRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return apperrors.ValidationError("code is required")
	}

	err := s.app.CompleteLogin(c.Request().Context(), c.Param("accessKey"), strings.TrimSpace(req.Identity), code)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "authenticated"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleRemoveBot(c echo.Context) error {
	if err := s.app.RemoveBot(c.Request().Context(), c.Param("accessKey")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRemoveTenant(c echo.Context) error {
	removed, err := s.app.RemoveTenant(c.Request().Context(), c.Param("destination"))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]bool{"removed": removed}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	counts, err := s.app.Counts(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to count sessions", err)
	}

	if err := c.JSON(http.StatusOK, counts); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
