package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// EventType names a security-relevant decision.
type EventType string

// Known event types.
const (
	EventLoginSuccess          EventType = "login_success"
	EventLoginFailure          EventType = "login_failure"
	EventAccessGranted         EventType = "access_granted"
	EventAccessDenied          EventType = "access_denied"
	EventAdminAccessDenied     EventType = "admin_access_denied"
	EventRoleChange            EventType = "role_change"
	EventRoleChangeDenied      EventType = "role_change_denied"
	EventMFASuccess            EventType = "mfa_success"
	EventMFAFailure            EventType = "mfa_failure"
	EventIPBlocked             EventType = "ip_blocked"
	EventProtectedAdminAdded   EventType = "protected_admin_added"
	EventProtectedAdminRemoved EventType = "protected_admin_removed"
	EventProtectedAdminDenied  EventType = "protected_admin_denied"
	EventCSRFFailure           EventType = "csrf_failure"
	EventSessionIssued         EventType = "session_issued"
	EventCacheCleared          EventType = "cache_cleared"
)

var knownEventTypes = map[EventType]struct{}{
	EventLoginSuccess: {}, EventLoginFailure: {},
	EventAccessGranted: {}, EventAccessDenied: {}, EventAdminAccessDenied: {},
	EventRoleChange: {}, EventRoleChangeDenied: {},
	EventMFASuccess: {}, EventMFAFailure: {},
	EventIPBlocked: {},
	EventProtectedAdminAdded: {}, EventProtectedAdminRemoved: {}, EventProtectedAdminDenied: {},
	EventCSRFFailure: {}, EventSessionIssued: {}, EventCacheCleared: {},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Severity ranks events; warning and above are written synchronously.
type Severity string

// Severities in increasing order.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.rank() > 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// ParseSeverity converts raw into a Severity.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// Event is an append-only security audit record.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"event_type"`
	IdentityID string         `json:"identity_id,omitempty"`
	Email      string         `json:"email,omitempty"`
	Severity   Severity       `json:"severity"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	// Scope narrows the dedup key for events that must not collapse into
	// each other, such as changes to different targets by one caller.
	Scope string `json:"-"`
	// Mandatory events record a completed mutation and are never skipped
	// by dedup.
	Mandatory bool `json:"-"`
}

// DedupKey identifies near-identical events.
func (e Event) DedupKey() string {
	key := string(e.Type) + "|" + e.IdentityID + "|" + string(e.Severity)
	if e.Scope != "" {
		key += "|" + e.Scope
	}
	return key
}

// NewEvent builds an event for id, taking network details from ctx.
func NewEvent(ctx context.Context, typ EventType, sev Severity, id shared.Identity, details map[string]any) Event {
	client := shared.ClientFromContext(ctx)
	return Event{
		Type:       typ,
		IdentityID: id.ID,
		Email:      id.Email,
		Severity:   sev,
		IPAddress:  client.IP,
		UserAgent:  client.UserAgent,
		Details:    details,
	}
}

// Result reports the outcome of Logger.Log.
type Result struct {
	Skipped bool   `json:"skipped,omitempty"`
	Queued  bool   `json:"queued,omitempty"`
	Event   *Event `json:"event,omitempty"`
}

// TimelineFilters narrows the event timeline.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	Type       string
	IdentityID string
	Severity   string
	Page       int
	PageSize   int
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// TimelinePage wraps one page of events.
type TimelinePage struct {
	Events []Event    `json:"events"`
	Paging PagingInfo `json:"paging"`
}
