package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// RequireMethod validates that the request uses the given method.
// Returns true on match, writes the error response otherwise.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteStorageError maps storage and pipeline errors onto HTTP statuses
func WriteStorageError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, interfaces.ErrConflict):
		return WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrInvariantViolation):
		return WriteError(w, http.StatusConflict, err.Error())
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return WriteError(w, http.StatusUnprocessableEntity, err.Error())
	}

	switch models.KindOf(err) {
	case models.ErrorKindInvalidInput:
		return WriteError(w, http.StatusBadRequest, err.Error())
	case models.ErrorKindNotFound:
		return WriteError(w, http.StatusNotFound, err.Error())
	case models.ErrorKindConflict:
		return WriteError(w, http.StatusConflict, err.Error())
	}

	return WriteError(w, http.StatusInternalServerError, "internal error")
}

// DecodeJSON parses a request body into dst, rejecting unknown fields
func DecodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
