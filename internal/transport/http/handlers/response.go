package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/ideahub/internal/service"
	"github.com/vedran77/ideahub/pkg/validator"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

// writeServiceError maps a service failure onto a status code. Untyped errors
// are logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	var typed *service.Error
	if !errors.As(err, &typed) {
		log.Error("request failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	status := http.StatusInternalServerError
	switch typed.Kind {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindConflict, service.KindValidation:
		status = http.StatusBadRequest
	case service.KindCapacityExceeded:
		status = http.StatusConflict
	case service.KindPersistence:
		log.Error("request failed", "op", op, "err", err)
		writeError(w, status, typed.Code, "Something went wrong")
		return
	}
	writeError(w, status, typed.Code, typed.Message)
}

// pathUUID parses a path wildcard, writing a 400 if it is not a valid id.
func pathUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid "+label+" ID")
		return uuid.Nil, false
	}
	return id, true
}
