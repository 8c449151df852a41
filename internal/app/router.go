package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/odyssey-erp/sentinel/internal/audit/http"
	"github.com/odyssey-erp/sentinel/internal/auth"
	"github.com/odyssey-erp/sentinel/internal/mfa"
	"github.com/odyssey-erp/sentinel/internal/observability"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/jobs"
)

// APIPrefix is where the security API is mounted.
const APIPrefix = "/api/security"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Authenticate func(http.Handler) http.Handler
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	AuditHandler *audithttp.Handler
	MFAHandler   *mfa.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, httpx.KindNotFound, "Not Found", "route not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountPublic(r)
		}
		r.Group(func(r chi.Router) {
			if params.Authenticate != nil {
				r.Use(params.Authenticate)
			}
			if params.AuthHandler != nil {
				params.AuthHandler.MountRoutes(r)
			}
			if params.RBACHandler != nil {
				params.RBACHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.MFAHandler != nil {
				params.MFAHandler.MountRoutes(r)
			}
		})
	})

	return r
}
