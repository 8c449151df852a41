package rbac

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Handler exposes identity, role and protected admin operations.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers routes. Every route expects a resolved identity.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/admin-access", h.verifyAdminAccess)
	r.Get("/ip", h.validateIP)
	r.Get("/role", h.getRole)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions/check", h.checkPermission)
	r.Get("/roles/hierarchy", h.roleHierarchy)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermRolesAssign))
		r.Put("/roles/{userID}", h.updateRole)
	})
	r.Get("/protected-admins", h.listProtectedAdmins)
	r.Post("/protected-admins", h.addProtectedAdmin)
	r.Delete("/protected-admins/{email}", h.removeProtectedAdmin)
	r.Post("/cache/clear", h.clearCache)
}

type checkPermissionRequest struct {
	Permission string `json:"permission" validate:"required,max=128"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type protectedAdminRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) verifyAdminAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	access, err := h.service.VerifyAdminAccess(r.Context(), id)
	if err != nil {
		h.fail(w, "verify admin access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) validateIP(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = shared.ClientFromContext(r.Context()).IP
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ipAllowed": h.service.ValidateIP(r.Context(), id, ip)})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"role": string(role)})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	perms, err := h.service.ListPermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req checkPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	granted, err := h.service.Authorize(r.Context(), id, req.Permission)
	if err != nil {
		h.fail(w, "check permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"hasPermission": granted})
}

func (h *Handler) roleHierarchy(w http.ResponseWriter, r *http.Request) {
	adjacency, err := h.service.RoleHierarchy(r.Context())
	if err != nil {
		h.fail(w, "role hierarchy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjacency)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.UpdateRole(r.Context(), id, chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listProtectedAdmins(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "list protected admins", err)
		return
	}
	if !role.IsStaff() {
		httpx.RespondError(w, shared.ErrNotAdmin)
		return
	}
	emails, err := h.service.ProtectedAdmins(r.Context())
	if err != nil {
		h.fail(w, "list protected admins", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (h *Handler) addProtectedAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req protectedAdminRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	emails, err := h.service.AddProtectedAdmin(r.Context(), id, req.Email)
	if err != nil {
		h.fail(w, "add protected admin", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (h *Handler) removeProtectedAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		httpx.RespondError(w, shared.Validation("malformed email"))
		return
	}
	emails, err := h.service.RemoveProtectedAdmin(r.Context(), id, email)
	if err != nil {
		h.fail(w, "remove protected admin", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"emails": emails})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearCache(r.Context(), id); err != nil {
		h.fail(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingCredential)
	}
	return id, ok
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Kind(err) == httpx.KindServer {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
