package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
)

func paramError(in, key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key, "in": in}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, key+" "+msg).WithDetails(details)
}

func positiveInt64(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

// ParsePathID reads a positive integer route parameter.
func ParsePathID(r *http.Request, key string) (int64, error) {
	id, ok := positiveInt64(strings.TrimSpace(chi.URLParam(r, key)))
	if !ok {
		return 0, paramError("path", key, "must be a positive id", nil)
	}
	return id, nil
}

// ParsePathUUID reads a uuid route parameter in canonical lower-case form.
func ParsePathUUID(r *http.Request, key string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		return "", paramError("path", key, "must be a uuid", nil)
	}
	return parsed.String(), nil
}

// ParseQueryInt reads an optional integer bounded by [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError("query", key, "must be numeric", nil)
	}
	if value < lo || value > hi {
		return 0, paramError("query", key, "out of range", map[string]any{"min": lo, "max": hi})
	}
	return value, nil
}

// ParseQueryID reads an optional positive id; nil means absent.
func ParseQueryID(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	id, ok := positiveInt64(raw)
	if !ok {
		return nil, paramError("query", key, "must be a positive id", nil)
	}
	return &id, nil
}
