package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.TimelinePage, error)
}

// EventLogger records security events.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) (audit.Result, error)
}

// Handler serves security event ingestion and the audit timeline.
type Handler struct {
	logger  *slog.Logger
	events  EventLogger
	service TimelineService
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, events EventLogger, service TimelineService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		events:  events,
		service: service,
		rbac:    rbac,
		now:     time.Now,
	}
}

type logEventRequest struct {
	EventType  string         `json:"event_type" validate:"required,max=64"`
	Severity   string         `json:"severity" validate:"required,oneof=info warning error critical"`
	IdentityID string         `json:"identity_id" validate:"omitempty,max=128"`
	Email      string         `json:"email" validate:"omitempty,email"`
	Details    map[string]any `json:"details"`
}

func (h *Handler) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrMissingCredential)
		return
	}
	var req logEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !audit.EventType(req.EventType).Valid() {
		httpx.RespondError(w, shared.Validation("event_type %q is not recognised", req.EventType))
		return
	}
	subject := shared.Identity{ID: req.IdentityID, Email: req.Email}
	if subject.ID == "" && subject.Email == "" {
		subject = caller
	}
	if onBehalf(caller, subject) {
		if err := h.authorizeOnBehalf(r.Context(), caller); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	details := req.Details
	if details == nil {
		details = map[string]any{}
	}
	details["reported_by"] = caller.ID
	event := audit.NewEvent(r.Context(), audit.EventType(req.EventType), audit.Severity(req.Severity), subject, details)

	result, err := h.events.Log(r.Context(), event)
	if err != nil {
		if httpx.Kind(err) == httpx.KindServer {
			h.logger.Error("log security event", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if result.Skipped {
		httpx.JSON(w, http.StatusOK, map[string]bool{"skipped": true})
		return
	}
	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, result.Event)
}

func onBehalf(caller, subject shared.Identity) bool {
	if subject.ID != "" && subject.ID != caller.ID {
		return true
	}
	return subject.Email != "" && shared.NormalizeEmail(subject.Email) != shared.NormalizeEmail(caller.Email)
}

// authorizeOnBehalf requires security.audit.write when the subject is not the caller.
func (h *Handler) authorizeOnBehalf(ctx context.Context, caller shared.Identity) error {
	if h.rbac.Authorizer == nil {
		return shared.ErrPermissionDenied
	}
	granted, err := h.rbac.Authorizer.Authorize(ctx, caller, shared.PermSecurityAuditWrite)
	if err != nil {
		if httpx.Kind(err) == httpx.KindServer {
			h.logger.Error("authorize audit write", slog.Any("error", err))
		}
		return err
	}
	if !granted {
		return shared.ErrPermissionDenied
	}
	return nil
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, shared.Server("audit timeline", err))
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	to := now
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, shared.Validation("to must be a date or RFC3339 timestamp")
		}
		to = parsed
	}
	from := to.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, shared.Validation("from must be a date or RFC3339 timestamp")
		}
		from = parsed
	}
	if from.After(to) || to.Sub(from) > maxDateRange {
		return audit.TimelineFilters{}, shared.Validation("invalid range")
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validation("page must be positive")
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Validation("page_size must be positive")
		}
		pageSize = min(parsed, maxPageSize)
	}
	severity := strings.TrimSpace(q.Get("severity"))
	if severity != "" {
		if _, err := audit.ParseSeverity(severity); err != nil {
			return audit.TimelineFilters{}, shared.Validation("unknown severity")
		}
	}

	return audit.TimelineFilters{
		From:       from,
		To:         to,
		Type:       strings.TrimSpace(q.Get("event_type")),
		IdentityID: strings.TrimSpace(q.Get("identity_id")),
		Severity:   severity,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
