package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
	apperrors "github.com/pscheid92/giftclaim/internal/platform/errors"
)

const headerCorrelationID = "X-Correlation-ID"

var validCorrelationID = regexp.MustCompile(`^[0-9A-Za-z-]{1,64}$`)

// correlationMiddleware adopts a well-formed caller-supplied correlation ID or
// generates one, and echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(headerCorrelationID)
		if !validCorrelationID.MatchString(id) {
			id = correlation.NewID()
		}
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(headerCorrelationID, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := mapDomainError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// mapDomainError translates domain and login errors into structured errors.
// Structured errors pass through; anything unrecognized becomes internal.
func mapDomainError(err error) *apperrors.Error {
	var structuredErr *apperrors.Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	var loginErr *domain.LoginError
	if errors.As(err, &loginErr) {
		return mapLoginError(loginErr)
	}

	switch {
	case errors.Is(err, domain.ErrInvalidDestination),
		errors.Is(err, domain.ErrInvalidIdentity),
		errors.Is(err, domain.ErrInvalidKey):
		return withCause(apperrors.ValidationError(err.Error()), err)
	case errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrNoBotSession):
		return withCause(apperrors.NotFoundError(err.Error()), err)
	case errors.Is(err, domain.ErrTenantExists),
		errors.Is(err, domain.ErrDestinationTaken),
		errors.Is(err, domain.ErrIdentityInUse),
		errors.Is(err, domain.ErrLoginNotPending):
		return withCause(apperrors.ConflictError(err.Error()), err)
	case errors.Is(err, domain.ErrKeyExpired):
		return withCause(apperrors.ExpiredError(err.Error()), err)
	case errors.Is(err, domain.ErrUpstream),
		errors.Is(err, domain.ErrNotConnected):
		return apperrors.ExternalError("upstream service unavailable", err)
	}

	return apperrors.AsStructuredError(err)
}

func mapLoginError(err *domain.LoginError) *apperrors.Error {
	if err.Kind == domain.LoginRateLimited {
		return apperrors.RateLimitedError("login rate limited", err).
			WithField("kind", string(err.Kind)).
			WithField("wait_seconds", int(math.Ceil(err.Wait.Seconds())))
	}

	message := "login failed"
	if err.Err != nil {
		message = err.Err.Error()
	}
	return withCause(apperrors.ValidationError(message), err).WithField("kind", string(err.Kind))
}

func withCause(e *apperrors.Error, cause error) *apperrors.Error {
	e.Cause = cause
	return e
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"route", c.Path(),
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound, apperrors.TypeExpired:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeConflict, apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// bindJSON decodes the request body, reporting malformed input as a
// validation error.
func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == http.StatusUnsupportedMediaType {
			return apperrors.ValidationError("request body must be JSON")
		}
		return apperrors.ValidationError("malformed request body")
	}
	return nil
}
