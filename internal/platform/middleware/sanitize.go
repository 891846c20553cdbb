package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8192

// Sanitize rejects requests with path traversal, null bytes, header
// injection or oversized headers before they reach routing.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			reason := ""
			switch {
			case containsPathTraversal(path) || containsPathTraversal(rawPath):
				reason = "path traversal"
			case containsNullByte(path) || containsNullByte(rawPath):
				reason = "null byte in path"
			}

		headers:
			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize || strings.ContainsAny(v, "\r\n") {
						reason = "bad header " + name
						break headers
					}
				}
			}

			if reason == "" {
				for key, values := range req.URL.Query() {
					if containsNullByte(key) {
						reason = "null byte in query"
					}
					for _, v := range values {
						if containsNullByte(v) {
							reason = "null byte in query"
						}
					}
				}
			}

			if reason != "" {
				logger.Warn().Str("reason", reason).Str("remote_ip", c.RealIP()).Msg("request rejected")
				return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
			}
			return next(c)
		}
	}
}

func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
