package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/internal/observability"
	"github.com/gatehouse-io/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-io/gatehouse/internal/requestctx"
)

// Gate is the single authorization checkpoint executed before a protected
// handler. It reads the principal and scope from the ambient request context
// and evaluates the declared requirement. Cheap sentinel checks short-circuit
// before scoped permission resolution; an undeclared requirement is always
// denied.
type Gate struct {
	resolver *Resolver
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewGate constructs a Gate. Logger must not be nil; metrics may be.
func NewGate(resolver *Resolver, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{resolver: resolver, logger: logger, metrics: metrics}
}

// Check evaluates the requirement against the ambient principal and scope.
// It returns nil on allow; on deny the error wraps ErrAuthenticationRequired,
// ErrPermissionDenied, or ErrStorageUnavailable. Allow is side-effect free
// beyond metrics; on deny the missing permissions are logged but never
// surfaced to the caller.
func (g *Gate) Check(ctx context.Context, req Requirement) error {
	switch req.kind {
	case requirementNone:
		g.metrics.AuthzDecision("denied", "undeclared")
		g.logger.Warn("denied request with undeclared requirement",
			slog.String("request_id", requestctx.RequestID(ctx)))
		return fmt.Errorf("%w: no requirement declared", ErrPermissionDenied)
	case requirementPublic:
		g.metrics.AuthzDecision("allowed", "public")
		return nil
	}

	principalID, ok := requestctx.PrincipalID(ctx)
	if !ok {
		g.metrics.AuthzDecision("denied", "unauthenticated")
		return ErrAuthenticationRequired
	}

	if req.kind == requirementAuthenticated {
		g.metrics.AuthzDecision("allowed", "authenticated")
		return nil
	}

	scopeID, _ := requestctx.ScopeID(ctx)
	perms, err := g.resolver.Resolve(ctx, principalID, scopeID)
	if err != nil {
		g.metrics.AuthzDecision("denied", "storage")
		return err
	}
	if missing := perms.Missing(req.permissions); len(missing) > 0 {
		g.metrics.AuthzDecision("denied", "missing_permissions")
		g.logger.Info("permission denied",
			slog.Int64("principal_id", principalID),
			slog.Int64("scope_id", scopeID),
			slog.String("missing", strings.Join(missing, ",")),
			slog.String("request_id", requestctx.RequestID(ctx)))
		return fmt.Errorf("%w: scope %d", ErrPermissionDenied, scopeID)
	}

	g.metrics.AuthzDecision("allowed", "permissions")
	return nil
}

// Require wraps a handler with the gate for the given requirement. Every
// route registration must pass an explicit requirement; the zero Requirement
// denies unconditionally.
func (g *Gate) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Check(r.Context(), req); err != nil {
				RespondDenied(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RespondDenied maps a gate error to an HTTP response without leaking which
// permissions were missing.
func RespondDenied(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case errors.Is(err, ErrStorageUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	}
}
