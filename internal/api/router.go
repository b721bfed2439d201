package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bcnelson/stack-manager/internal/api/handler"
	"github.com/bcnelson/stack-manager/internal/api/middleware"
	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/domain"
	"github.com/bcnelson/stack-manager/internal/metrics"
	"github.com/bcnelson/stack-manager/internal/service"
)

// Options configures the router.
type Options struct {
	Factory       *service.Factory
	Authenticator auth.Authenticator

	// EnforceRoles makes every route require the permission of its method.
	EnforceRoles bool
}

// collections maps the URL collection of each kind to the kind.
var collections = []struct {
	path string
	kind domain.Kind
}{
	{path: "apps", kind: domain.KindApplication},
	{path: "pipelines", kind: domain.KindPipeline},
	{path: "services", kind: domain.KindService},
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)

	// Health check and metrics (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handler.OK(map[string]string{"status": "ok"}).Write(w)
	})
	r.Handle("/metrics", metrics.Handler())

	require := func(p domain.Permission) func(http.Handler) http.Handler {
		return middleware.Require(opts.EnforceRoles, p)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.Authenticator))

		pipelines := handler.NewPipelineHandler(opts.Factory)
		for _, c := range collections {
			h := handler.NewStackHandler(opts.Factory, c.kind, c.path)
			r.Route("/"+c.path, func(r chi.Router) {
				r.With(require(domain.PermissionRead)).Get("/", h.List)
				r.With(require(domain.PermissionCreate)).Post("/", h.Create)
				r.With(require(domain.PermissionRead)).Get("/{name}", h.Get)
				r.With(require(domain.PermissionUpdate)).Patch("/{name}", h.Update)
				r.With(require(domain.PermissionDelete)).Delete("/{name}", h.Delete)

				if c.kind == domain.KindPipeline {
					r.With(require(domain.PermissionRead)).Get("/{name}/states", pipelines.States)
					r.With(require(domain.PermissionUpdate)).Put("/{name}/states", pipelines.Approve)
				}
			})
		}

		events := handler.NewStackHandler(opts.Factory, domain.KindAny, "")
		r.With(require(domain.PermissionRead)).Get("/events/{name}", events.Events)
	})

	return otelhttp.NewHandler(r, "stack-manager")
}
