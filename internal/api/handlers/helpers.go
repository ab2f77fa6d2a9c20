package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/veilchat/relay/pkg/relay/models"
)

// validate is the shared request validator.
var validate = validator.New()

// decodeJSONBody decodes and validates a JSON request body into the
// provided pointer. Returns true if successful; on failure the error
// response has already been written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// MapStoreError maps a store error to an HTTP status code and message.
// Auth-path callers must not use this; they render the generic 401
// instead.
func MapStoreError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, models.ErrDeviceNotFound):
		return http.StatusNotFound, "Device not found"
	case errors.Is(err, models.ErrPreKeyNotFound):
		return http.StatusNotFound, "Pre-key not found"
	case errors.Is(err, models.ErrMessageNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, models.ErrDuplicateUser):
		return http.StatusConflict, "Username already taken"
	case errors.Is(err, models.ErrDuplicatePreKey):
		return http.StatusConflict, "Pre-key id already uploaded"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// HandleStoreError maps a store error to an HTTP response and writes it.
func HandleStoreError(w http.ResponseWriter, err error) {
	status, msg := MapStoreError(err)
	WriteError(w, status, msg)
}
