package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// EventLogger records security events.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) (audit.Result, error)
}

// Middleware resolves the bearer credential and stores the identity in the
// request context. Requests without a valid credential are rejected.
func Middleware(resolver *Resolver, events EventLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.ResolveRequest(r)
			if err != nil {
				if events != nil {
					ev := audit.NewEvent(r.Context(), audit.EventLoginFailure, audit.SeverityWarning, shared.Identity{}, map[string]any{
						"reason": httpx.Kind(err),
						"path":   r.URL.Path,
					})
					ev.Scope = ev.IPAddress
					if _, logErr := events.Log(r.Context(), ev); logErr != nil {
						logger.Warn("record login failure", slog.Any("error", logErr))
					}
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
		})
	}
}
