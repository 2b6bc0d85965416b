package api

import (
	"errors"
	"fmt"
	"net/http"

	"foldguard/internal/guard"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var sentinels = []error{
	guard.ErrPathNotFound,
	guard.ErrAlreadyProtected,
	guard.ErrNotProtected,
	guard.ErrIntegrity,
	guard.ErrTargetConflict,
	guard.ErrBackupWriteFailed,
	guard.ErrQueueOverflow,
	guard.ErrEngineStopped,
	guard.ErrUnsupportedOperation,
	guard.ErrSnapshotNotFound,
	guard.ErrOperationNotFound,
	guard.ErrNotConfirmable,
	guard.ErrDegraded,
	guard.ErrJobNotFound,
	guard.ErrInvalidRequest,
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, guard.ErrPathNotFound),
		errors.Is(err, guard.ErrNotProtected),
		errors.Is(err, guard.ErrSnapshotNotFound),
		errors.Is(err, guard.ErrOperationNotFound),
		errors.Is(err, guard.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, guard.ErrAlreadyProtected),
		errors.Is(err, guard.ErrTargetConflict),
		errors.Is(err, guard.ErrNotConfirmable):
		return http.StatusConflict
	case errors.Is(err, guard.ErrIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, guard.ErrDegraded),
		errors.Is(err, guard.ErrQueueOverflow),
		errors.Is(err, guard.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, guard.ErrUnsupportedOperation),
		errors.Is(err, guard.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failed API call as seen by the client. It unwraps to the
// matching guard sentinel so callers can use errors.Is.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	for _, s := range sentinels {
		if guard.ErrorCode(s) == e.Code {
			return s
		}
	}
	return nil
}
