package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// handleError is the echo HTTPErrorHandler. Categorized errors map to
// statuses; echo's own errors keep their code.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, ErrorResponse{Detail: detail})
	}
	if werr != nil {
		s.log.Debug("failed to write error response", logger.Error(werr))
	}
}

// StatusFor maps an error to its HTTP status and client-facing message.
func StatusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Message == nil {
			msg = http.StatusText(he.Code)
		}
		return he.Code, msg
	}

	switch {
	case errors.IsClientError(err):
		return http.StatusBadRequest, err.Error()
	case errors.IsCategory(err, errors.CategoryLimit):
		return http.StatusTooManyRequests, err.Error()
	case errors.IsCategory(err, errors.CategoryUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.IsNotFound(err):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
