package requestctx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RequestIDHeader is the header used to accept and reflect correlation ids.
const RequestIDHeader = "X-Request-ID"

// ScopeIDHeader selects the tenant scope for a request. A missing header
// means global scope only. The "scope" query parameter is accepted as a
// fallback for links and exports.
const ScopeIDHeader = "X-Scope-ID"

// Middleware seeds a fresh ambient store for each request, assigns a request
// id when the caller supplied none, and reflects it back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := With(r.Context())

		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		SetRequestID(ctx, id)
		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ScopeMiddleware populates the ambient scope id from the request. Malformed
// values are ignored rather than rejected; the request then runs against the
// global scope, which can only narrow what it is allowed to do.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ScopeIDHeader))
		if raw == "" {
			raw = strings.TrimSpace(r.URL.Query().Get("scope"))
		}
		if raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				SetScopeID(r.Context(), id)
			}
		}
		next.ServeHTTP(w, r)
	})
}
