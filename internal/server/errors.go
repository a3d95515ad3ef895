package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tollgate/internal/apperr"
	meteringcycledomain "github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
)

type errorPayload struct {
	Type    string                  `json:"type"`
	Message string                  `json:"message"`
	Errors  []apperr.ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrOrgRequired        = errors.New("organization_required")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return apperr.Validation("request", "invalid_request", "invalid request")
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr, ok := apperr.AsValidation(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: vErr.Error(),
			Errors:  []apperr.ValidationError{*vErr},
		}
	}

	switch {
	case apperr.IsConfiguration(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "configuration_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrOrgRequired):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "X-Organization-ID header is required",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case apperr.IsNotFound(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, meteringcycledomain.ErrCycleInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "cycle_in_progress",
			Message: "a usage cycle is already running",
		}
	case apperr.IsConflict(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case apperr.IsTransient(err), errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog tags request logs with the response error type.
func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}
