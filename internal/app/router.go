package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Identity     identity.Middleware
	AuthHandler  *identity.Handler
	AuthzHandler *authz.Handler
	Metrics      *observability.Metrics
}

// NewRouter assembles the chi router with the full middleware chain. Auth
// endpoints stay outside the gate; everything under /admin is gated per
// route.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   p.Logger,
		Config:   p.Config,
		Identity: p.Identity,
		Metrics:  p.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// /metrics is ops-public like /healthz: the scraper carries no principal,
	// so exposure control belongs to network policy, not the gate.
	r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())

	r.Route("/auth", func(auth chi.Router) {
		p.AuthHandler.MountRoutes(auth)
	})

	r.Route("/admin", func(admin chi.Router) {
		p.AuthzHandler.MountRoutes(admin)
	})

	return r
}
