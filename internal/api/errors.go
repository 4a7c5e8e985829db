package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// statusFor maps an error category to an HTTP status.
func statusFor(category errors.ErrorCategory) int {
	switch category {
	case errors.CategoryValidation, errors.CategoryFileParsing:
		return http.StatusBadRequest
	case errors.CategoryPrecondition, errors.CategoryDataIntegrity, errors.CategoryNumerical:
		return http.StatusUnprocessableEntity
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryState:
		return http.StatusConflict
	case errors.CategoryNetwork, errors.CategoryRejected:
		return http.StatusBadGateway
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryCancellation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders every error as the {status:"error", message} envelope.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = fmt.Sprint(he.Message)
		if he.Internal != nil {
			message = fmt.Sprintf("%s: %v", message, he.Internal)
		}
	} else {
		code = statusFor(errors.CategoryOf(err))
	}

	fields := []logger.Field{
		logger.String("method", c.Request().Method),
		logger.String("path", c.Path()),
		logger.Int("status", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Debug("request rejected", fields...)
	}

	body := analysis.Envelope{Status: analysis.StatusError, Message: message}
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, body)
	}
	if writeErr != nil {
		s.log.Warn("failed to write error response", logger.Error(writeErr))
	}
}
