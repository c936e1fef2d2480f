package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// defaultSpan is used when a request names neither bound.
const defaultSpan = 24 * time.Hour

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseInstant accepts epoch milliseconds or an ISO-8601 timestamp.
func parseInstant(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := iso8601.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid instant %q", errBadRequest, raw)
	}
	return t.UnixMilli(), nil
}

// parseRange reads the half-open [from, to) query bounds. Missing bounds default to the
// last day ending now.
func parseRange(r *http.Request, now time.Time) (int64, int64, error) {
	q := r.URL.Query()
	to := now.UnixMilli()
	if raw := q.Get("to"); raw != "" {
		v, err := parseInstant(raw)
		if err != nil {
			return 0, 0, err
		}
		to = v
	}
	from := to - defaultSpan.Milliseconds()
	if raw := q.Get("from"); raw != "" {
		v, err := parseInstant(raw)
		if err != nil {
			return 0, 0, err
		}
		from = v
	}
	return from, to, nil
}

func parseFields(r *http.Request) ([]models.Field, error) {
	raw := r.URL.Query().Get("fields")
	if raw == "" {
		return models.ParseFields(nil)
	}
	return models.ParseFields(strings.Split(raw, ","))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownNumber):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
