package identity

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/internal/requestctx"
)

// Middleware resolves an Authorization bearer token into the ambient
// principal id. Requests without a valid token continue unauthenticated; the
// gate decides later whether that matters for the route.
type Middleware struct {
	Tokens *TokenStore
	Logger *slog.Logger
}

// ResolvePrincipal is the principal-resolution middleware.
func (m Middleware) ResolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token != "" {
			accountID, ok, err := m.Tokens.Lookup(r.Context(), token)
			if err != nil && m.Logger != nil {
				m.Logger.Warn("resolve principal", slog.Any("error", err))
			}
			if ok {
				requestctx.SetPrincipalID(r.Context(), accountID)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
