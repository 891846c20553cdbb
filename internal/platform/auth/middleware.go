package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/clinic/registry/internal/platform/apperr"
)

// Middleware validates the bearer token and the session it names. A token
// whose session was deleted by logout is rejected even before it expires.
func Middleware(tokens *Tokens, sessions SessionStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}

			raw, ok := bearerToken(c.Request())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			ctx := c.Request().Context()
			sess, err := sessions.Get(ctx, claims.SessionID)
			if errors.Is(err, ErrSessionNotFound) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			if err != nil {
				return apperr.Connection(fmt.Errorf("load session: %w", err))
			}
			if sess.Username != claims.Subject {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}

			c.Set("user", claims.Subject)
			c.SetRequest(c.Request().WithContext(WithUser(ctx, claims.Subject, claims.Roles, claims.SessionID)))
			return next(c)
		}
	}
}

// DevMiddleware lets every request through as an administrator. It is
// installed when authentication is disabled.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user", "dev-user")
			ctx := WithUser(c.Request().Context(), "dev-user", []string{RoleAdmin}, "")
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
