package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Authorizer renders an audited permission verdict.
type Authorizer interface {
	Authorize(ctx context.Context, id shared.Identity, permission string) (bool, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// RequirePermission ensures the resolved identity holds perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrMissingCredential)
				return
			}
			granted, err := m.Authorizer.Authorize(r.Context(), id, perm)
			if err != nil && errors.Is(err, shared.ErrServer) {
				if m.Logger != nil {
					m.Logger.Error("rbac require permission", slog.String("permission", perm), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !granted {
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
