package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Handler wires HTTP endpoints for CSRF and session-state cookies.
type Handler struct {
	logger   *slog.Logger
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	events   EventLogger
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sessions *shared.SessionManager, csrf *shared.CSRFManager, events EventLogger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, sessions: sessions, csrf: csrf, events: events}
}

// MountPublic registers routes that need no identity.
func (h *Handler) MountPublic(r chi.Router) {
	r.Get("/csrf", h.mintCSRF)
	r.Post("/csrf/validate", h.validateCSRF)
}

// MountRoutes registers routes that require a resolved identity.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/csrf", h.setCSRF)
	r.Post("/session", h.setSession)
	r.Get("/session", h.validateSession)
	r.Delete("/session", h.revokeSession)
}

type csrfRequest struct {
	Token string `json:"token"`
}

func (h *Handler) mintCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.GenerateToken()
	if err != nil {
		h.logger.Error("generate csrf token", slog.Any("error", err))
		httpx.RespondError(w, shared.Server("csrf token", err))
		return
	}
	if _, err := h.csrf.Issue(w, token); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) setCSRF(w http.ResponseWriter, r *http.Request) {
	var req csrfRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if _, err := h.csrf.Issue(w, req.Token); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateCSRF(w http.ResponseWriter, r *http.Request) {
	valid := h.csrf.Validate(r.Header.Get(shared.CSRFHeader), r.Cookies())
	if !valid {
		h.record(r, audit.EventCSRFFailure, audit.SeverityWarning, shared.Identity{}, map[string]any{"path": r.URL.Path})
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) setSession(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.Validation("identity required"))
		return
	}
	_, state, err := h.sessions.Issue(r.Context(), w, id)
	if err != nil {
		h.fail(w, "issue session", err)
		return
	}
	h.record(r, audit.EventSessionIssued, audit.SeverityInfo, id, map[string]any{"session_id": state.SessionID})
	httpx.JSON(w, http.StatusCreated, state)
}

func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.Refresh(r.Context(), w, r)
	if err != nil {
		h.fail(w, "validate session", err)
		return
	}
	if id, ok := shared.IdentityFromContext(r.Context()); ok && id.ID != state.IdentityID {
		httpx.RespondError(w, shared.ErrSessionInvalid)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.Validate(r.Context(), r)
	if err != nil {
		h.fail(w, "revoke session", err)
		return
	}
	if err := h.sessions.Revoke(r.Context(), w, state.SessionID); err != nil {
		h.fail(w, "revoke session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(r *http.Request, typ audit.EventType, sev audit.Severity, id shared.Identity, details map[string]any) {
	if h.events == nil {
		return
	}
	if _, err := h.events.Log(r.Context(), audit.NewEvent(r.Context(), typ, sev, id, details)); err != nil {
		h.logger.Warn("record security event", slog.String("event_type", string(typ)), slog.Any("error", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.Kind(err) == httpx.KindServer {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
