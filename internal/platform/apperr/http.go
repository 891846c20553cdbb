package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Response is the JSON body of every error reply.
type Response struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// Status maps an error to its HTTP status and body. exposeDetail controls
// whether unexpected error text reaches the client.
func Status(err error, exposeDetail bool) (int, Response) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, Response{Error: "Validation error", Details: ve.Fields}
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound, Response{Error: nf.Resource + " not found"}
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound, Response{Error: "Not found"}
	}

	if IsConnection(err) {
		return http.StatusServiceUnavailable, Response{Error: "Database connection error"}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, Response{Error: msg}
	}

	resp := Response{Error: "Internal server error"}
	if exposeDetail {
		resp.Details = err.Error()
	}
	return http.StatusInternalServerError, resp
}

// HTTPErrorHandler returns an echo.HTTPErrorHandler that renders the
// taxonomy as JSON. Server errors are logged.
func HTTPErrorHandler(logger zerolog.Logger, exposeDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := Status(err, exposeDetail)
		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", code).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
