package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/metrics"
)

// Metrics records request count and latency per route template, so
// /api/patients/:id is one series regardless of the id.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status, _ = apperr.Status(err, false)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}
