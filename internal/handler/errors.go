package handler

import (
	"errors"
	"net/http"

	"notesync-server/internal/service"
	"notesync-server/pkg/response"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses so
// every handler reports failures the same way.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var notFoundErr *service.NotFoundError
	var authErr *service.AuthenticationError
	var stateErr *service.InvalidStateError
	var conflictErr *service.ConflictDetectedError

	switch {
	case errors.As(err, &validationErr):
		response.BadRequest(w, validationErr.Error())
	case errors.As(err, &notFoundErr):
		response.NotFound(w, notFoundErr.Error())
	case errors.As(err, &authErr):
		response.Unauthorized(w, authErr.Error())
	case errors.As(err, &stateErr):
		response.Conflict(w, stateErr.Error())
	case errors.As(err, &conflictErr):
		response.JSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "conflict_detected",
			"conflicts": conflictErr.Conflicts,
		})
	default:
		response.InternalError(w, "internal server error")
	}
}
