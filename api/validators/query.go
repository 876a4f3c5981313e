package validators

import (
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
)

// ParseQueryDate reads an optional YYYY-MM-DD query parameter.
func ParseQueryDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a date").WithDetails(map[string]any{"field": key, "format": time.DateOnly})
	}
	return &value, nil
}

// RequireQuery returns the trimmed value of a mandatory query parameter.
func RequireQuery(r *http.Request, key string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", pkgerrors.InvalidArgument("query parameter %q is required", key)
	}
	return raw, nil
}
