package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

const rateLimit = 60
const rateWindow = time.Minute

// MountRoutes registers security event ingestion and the timeline.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests", "")
		}),
	)
	r.With(limiter).Post("/audit/events", h.handleLogEvent)
	r.With(h.rbac.RequirePermission(shared.PermSecurityAuditView)).Get("/audit/events", h.handleTimeline)
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.IdentityFromContext(r.Context()); ok {
		return "identity:" + id.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
