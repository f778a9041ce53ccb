package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/unidesk/unidesk/internal/shared"
)

// ErrValidation marks malformed request payloads. It unwraps to shared.ErrInvalid.
var ErrValidation = validationError{}

type validationError struct{}

func (validationError) Error() string { return "validation failed" }

func (validationError) Is(target error) bool { return target == shared.ErrInvalid }

// Status maps an error kind onto its HTTP status.
func Status(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, shared.ErrScheduleRestricted):
		return http.StatusLocked
	case errors.Is(err, shared.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var defaultMessages = map[int]string{
	http.StatusUnauthorized:        "Authentication required",
	http.StatusForbidden:           "Insufficient permissions",
	http.StatusNotFound:            "Resource not found",
	http.StatusConflict:            "Conflict",
	http.StatusTooManyRequests:     "Too many requests",
	http.StatusLocked:              "Outside working hours",
	http.StatusBadRequest:          "Invalid request",
	http.StatusInternalServerError: "Internal server error",
}

// RespondError maps domain errors to the failure envelope. Internal failures never
// expose their message.
func RespondError(w http.ResponseWriter, err error) {
	status := Status(err)
	message := defaultMessages[status]
	var extra map[string]any

	if rej, ok := shared.RejectionFrom(err); ok && status != http.StatusInternalServerError {
		if rej.Message != "" {
			message = rej.Message
		}
		extra = rej.Fields
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		extra = map[string]any{"fields": fields}
		message = "Validation failed"
	} else if status == http.StatusBadRequest && extra == nil {
		message = err.Error()
	}

	if errors.Is(err, shared.ErrInvalidCredentials) {
		message = "Invalid credentials"
	}

	Fail(w, status, message, extra)
}
