package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/kalambet/lecturelens/internal/convert"
	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/resilience"
	"github.com/kalambet/lecturelens/internal/textmetrics"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve  *lecture.ValidationError
		nse *lecture.NotStoredError
	)
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":  ve.Error(),
				"type":     "invalid_request_error",
				"problems": ve.Problems,
			},
		})
	case errors.Is(err, textmetrics.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, convert.ErrUnsupportedFormat):
		httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%v", err)
	case errors.Is(err, lecture.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "not found")
	case errors.As(err, &nse), resilience.IsPersistence(err):
		httpError(w, http.StatusServiceUnavailable, "storage_error", "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
