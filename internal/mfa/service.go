package mfa

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/settings"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// AccessVerifier resolves admin status.
type AccessVerifier interface {
	VerifyAdminAccess(ctx context.Context, id shared.Identity) (rbac.AdminAccess, error)
}

// PolicySource supplies the MFA policy.
type PolicySource interface {
	MFAPolicy(ctx context.Context) (settings.MFAPolicy, error)
}

// FactorStore persists TOTP factors.
type FactorStore interface {
	Get(ctx context.Context, identityID string) (Factor, error)
	Enroll(ctx context.Context, identityID string, secret []byte) error
	Consume(ctx context.Context, identityID string, counter int64, enable bool) (bool, error)
}

// EventLogger records security events.
type EventLogger interface {
	Log(ctx context.Context, event audit.Event) (audit.Result, error)
}

// Status is the verdict of RequireMFA.
type Status struct {
	Required bool `json:"mfaRequired"`
	Verified bool `json:"mfaVerified"`
	Enabled  bool `json:"mfaEnabled"`
}

// Enrollment is returned when a factor is created.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// Service evaluates the MFA requirement for admin identities.
type Service struct {
	access  AccessVerifier
	policy  PolicySource
	factors FactorStore
	events  EventLogger
	totp    TOTP
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a Service.
func NewService(access AccessVerifier, policy PolicySource, factors FactorStore, events EventLogger, totp TOTP, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{access: access, policy: policy, factors: factors, events: events, totp: totp, logger: logger, now: time.Now}
}

// RequireMFA reports whether id must present a second factor and, when code
// is supplied, verifies it. Protected identities are never challenged.
func (s *Service) RequireMFA(ctx context.Context, id shared.Identity, code string) (Status, error) {
	access, err := s.access.VerifyAdminAccess(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if access.IsSpecialAdmin {
		factor, err := s.factors.Get(ctx, id.ID)
		return Status{Required: false, Verified: true, Enabled: err == nil && factor.Enabled}, nil
	}
	if !access.IsAdmin {
		return Status{}, shared.ErrNotAdmin
	}
	policy, err := s.policy.MFAPolicy(ctx)
	if err != nil {
		return Status{}, err
	}
	factor, err := s.factors.Get(ctx, id.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Status{}, shared.Server("mfa factor load", err)
	}
	status := Status{Required: policy.EnforceForStaff, Enabled: err == nil && factor.Enabled}
	if code == "" {
		return status, nil
	}
	if !status.Enabled {
		s.record(ctx, audit.EventMFAFailure, audit.SeverityWarning, id, "not enrolled")
		return status, shared.ErrMFACodeInvalid
	}
	if err := s.consume(ctx, id, factor, code, false); err != nil {
		return status, err
	}
	status.Verified = true
	s.record(ctx, audit.EventMFASuccess, audit.SeverityInfo, id, "")
	return status, nil
}

// Enroll creates an unconfirmed factor for an admin identity.
func (s *Service) Enroll(ctx context.Context, id shared.Identity) (Enrollment, error) {
	access, err := s.access.VerifyAdminAccess(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if !access.IsAdmin {
		return Enrollment{}, shared.ErrNotAdmin
	}
	raw, encoded, err := s.totp.GenerateSecret()
	if err != nil {
		return Enrollment{}, shared.Server("mfa secret", err)
	}
	if err := s.factors.Enroll(ctx, id.ID, raw); err != nil {
		if errors.Is(err, shared.ErrValidation) {
			return Enrollment{}, err
		}
		return Enrollment{}, shared.Server("mfa enroll", err)
	}
	account := id.Email
	if account == "" {
		account = id.ID
	}
	return Enrollment{Secret: encoded, URI: s.totp.ProvisionURI(encoded, account)}, nil
}

// Confirm enables a pending factor once the first code verifies.
func (s *Service) Confirm(ctx context.Context, id shared.Identity, code string) error {
	factor, err := s.factors.Get(ctx, id.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return err
		}
		return shared.Server("mfa factor load", err)
	}
	return s.consume(ctx, id, factor, code, true)
}

func (s *Service) consume(ctx context.Context, id shared.Identity, factor Factor, code string, enable bool) error {
	ok, counter := s.totp.Verify(factor.Secret, code, s.now())
	if !ok || counter <= factor.LastCounter {
		s.record(ctx, audit.EventMFAFailure, audit.SeverityWarning, id, "code rejected")
		return shared.ErrMFACodeInvalid
	}
	fresh, err := s.factors.Consume(ctx, id.ID, counter, enable)
	if err != nil {
		return shared.Server("mfa factor update", err)
	}
	if !fresh {
		s.record(ctx, audit.EventMFAFailure, audit.SeverityWarning, id, "code replayed")
		return shared.ErrMFACodeInvalid
	}
	return nil
}

func (s *Service) record(ctx context.Context, typ audit.EventType, sev audit.Severity, id shared.Identity, reason string) {
	if s.events == nil {
		return
	}
	var details map[string]any
	if reason != "" {
		details = map[string]any{"reason": reason}
	}
	if _, err := s.events.Log(ctx, audit.NewEvent(ctx, typ, sev, id, details)); err != nil {
		s.logger.Warn("record mfa event", slog.Any("error", err))
	}
}
