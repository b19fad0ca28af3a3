package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// PathParam returns the named mux route variable. An absent or empty
// variable writes a 400 and reports false.
func PathParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := mux.Vars(r)[key]
	if val == "" {
		WriteBadRequest(w, r, fmt.Sprintf("missing path parameter: %s", key))
		return "", false
	}
	return val, true
}

// QueryInt parses an integer query parameter bounded to [min, max]. An
// absent parameter yields def.
func QueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s must be an integer", key)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("query parameter %s must be between %d and %d", key, min, max)
	}
	return n, nil
}
