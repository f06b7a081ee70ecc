package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/taskq/internal/api/shared"
	"github.com/phrazzld/taskq/internal/platform/archive"
	"github.com/phrazzld/taskq/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing error types to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors

	switch {
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrInvalidTransition):
		return http.StatusConflict

	case errors.Is(err, task.ErrQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	case errors.As(err, &verrs),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, archive.ErrNotFound):
		return "Archived task not found"
	case errors.Is(err, task.ErrInvalidTransition):
		return "Task has already settled"
	case errors.Is(err, task.ErrQueueFull):
		return "Work queue is full, retry later"
	case errors.Is(err, task.ErrQueueClosed):
		return "Dispatcher is shutting down"
	case errors.As(err, &verrs):
		return SanitizeValidationError(verrs)
	case errors.Is(err, errInvalidRequest):
		return "Invalid request"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// message overrides the default safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// errInvalidRequest marks malformed bodies and query strings.
var errInvalidRequest = errors.New("invalid request")

// SanitizeValidationError describes the first failed field without echoing
// the rejected value.
func SanitizeValidationError(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
