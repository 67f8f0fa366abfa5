package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteResult writes an already serialized execution result.
func WriteResult(w http.ResponseWriter, result string) error {
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(result))
	return err
}

// StatusForError maps an execution error to the status a host should answer with.
func StatusForError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, apperrors.ErrConnectionUnresolved), errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, apperrors.ErrNotQueryable), errors.Is(err, apperrors.ErrMissingTemplate):
		return http.StatusMethodNotAllowed, "unsupported_action"
	case apperrors.IsDataError(err):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "execution_failed"
	}
}

// WriteError writes err with the status StatusForError picks.
func WriteError(w http.ResponseWriter, err error) error {
	status, code := StatusForError(err)
	return ErrorResponse(w, status, code, err.Error())
}
