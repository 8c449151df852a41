package mfa

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Handler exposes the MFA endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/mfa", h.require)
	r.Post("/mfa/enroll", h.enroll)
	r.Post("/mfa/confirm", h.confirm)
}

type codeRequest struct {
	Code string `json:"code" validate:"omitempty,numeric,len=6"`
}

func (h *Handler) require(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingCredential)
		return
	}
	var req codeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	status, err := h.service.RequireMFA(r.Context(), id, req.Code)
	if err != nil {
		h.fail(w, "require mfa", err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingCredential)
		return
	}
	enrollment, err := h.service.Enroll(r.Context(), id)
	if err != nil {
		h.fail(w, "enroll mfa", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, enrollment)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingCredential)
		return
	}
	var req codeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Code == "" {
		httpx.RespondError(w, shared.Validation("code is required"))
		return
	}
	if err := h.service.Confirm(r.Context(), id, req.Code); err != nil {
		h.fail(w, "confirm mfa", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Kind(err) == httpx.KindServer {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
