package mfa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/settings"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

type accessStub map[string]rbac.AdminAccess

func (a accessStub) VerifyAdminAccess(_ context.Context, id shared.Identity) (rbac.AdminAccess, error) {
	return a[id.ID], nil
}

type policyStub struct {
	policy settings.MFAPolicy
	err    error
}

func (p policyStub) MFAPolicy(context.Context) (settings.MFAPolicy, error) { return p.policy, p.err }

type factorStub struct {
	factors map[string]Factor
}

func (f *factorStub) Get(_ context.Context, id string) (Factor, error) {
	factor, ok := f.factors[id]
	if !ok {
		return Factor{}, shared.ErrNotFound
	}
	return factor, nil
}

func (f *factorStub) Enroll(_ context.Context, id string, secret []byte) error {
	if existing, ok := f.factors[id]; ok && existing.Enabled {
		return shared.Validation("mfa already enabled")
	}
	f.factors[id] = Factor{IdentityID: id, Secret: secret}
	return nil
}

func (f *factorStub) Consume(_ context.Context, id string, counter int64, enable bool) (bool, error) {
	factor := f.factors[id]
	if counter <= factor.LastCounter {
		return false, nil
	}
	factor.LastCounter = counter
	factor.Enabled = factor.Enabled || enable
	f.factors[id] = factor
	return true, nil
}

type eventSink struct {
	events []audit.Event
}

func (e *eventSink) Log(_ context.Context, ev audit.Event) (audit.Result, error) {
	e.events = append(e.events, ev)
	return audit.Result{Event: &ev}, nil
}

func (e *eventSink) types() []audit.EventType {
	out := make([]audit.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

var (
	staff    = shared.Identity{ID: "u-staff", Email: "staff@sentinel.test"}
	owner    = shared.Identity{ID: "u-owner", Email: "owner@sentinel.test"}
	customer = shared.Identity{ID: "u-customer", Email: "buyer@sentinel.test"}
	secret   = []byte("12345678901234567890")
	fixedNow = time.Unix(1_700_000_000, 0)
)

func newFixture(enforce bool) (*Service, *factorStub, *eventSink) {
	access := accessStub{
		staff.ID: {IsAdmin: true, Role: "admin"},
		owner.ID: {IsAdmin: true, Role: "super_admin", IsSpecialAdmin: true},
	}
	factors := &factorStub{factors: map[string]Factor{
		staff.ID: {IdentityID: staff.ID, Secret: secret, Enabled: true},
	}}
	events := &eventSink{}
	svc := NewService(access, policyStub{policy: settings.MFAPolicy{EnforceForStaff: enforce}}, factors, events, DefaultTOTP("Sentinel"), nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, factors, events
}

func TestRequireMFAProtectedIdentitySkipsChallenge(t *testing.T) {
	svc, _, events := newFixture(true)

	status, err := svc.RequireMFA(context.Background(), owner, "")
	require.NoError(t, err)
	require.Equal(t, Status{Required: false, Verified: true, Enabled: false}, status)
	require.Empty(t, events.events)
}

func TestRequireMFARejectsNonStaff(t *testing.T) {
	svc, _, _ := newFixture(true)

	_, err := svc.RequireMFA(context.Background(), customer, "")
	require.ErrorIs(t, err, shared.ErrNotAdmin)
}

func TestRequireMFAWithoutCodeReportsPolicy(t *testing.T) {
	svc, _, _ := newFixture(true)
	status, err := svc.RequireMFA(context.Background(), staff, "")
	require.NoError(t, err)
	require.Equal(t, Status{Required: true, Verified: false, Enabled: true}, status)

	svc, _, _ = newFixture(false)
	status, err = svc.RequireMFA(context.Background(), staff, "")
	require.NoError(t, err)
	require.False(t, status.Required)
}

func TestRequireMFAVerifiesAndRejectsReplay(t *testing.T) {
	svc, factors, events := newFixture(true)
	code := svc.totp.Code(secret, fixedNow)

	status, err := svc.RequireMFA(context.Background(), staff, code)
	require.NoError(t, err)
	require.True(t, status.Verified)
	require.Equal(t, fixedNow.Unix()/30, factors.factors[staff.ID].LastCounter)

	_, err = svc.RequireMFA(context.Background(), staff, code)
	require.ErrorIs(t, err, shared.ErrMFACodeInvalid)

	require.Equal(t, []audit.EventType{audit.EventMFASuccess, audit.EventMFAFailure}, events.types())
	require.Equal(t, audit.SeverityWarning, events.events[1].Severity)
}

func TestRequireMFAWrongCode(t *testing.T) {
	svc, _, events := newFixture(true)
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[svc.totp.Code(secret, fixedNow.Add(d))] = true
	}
	probe := "000000"
	for valid[probe] {
		probe = probe[1:] + "1"
	}

	_, err := svc.RequireMFA(context.Background(), staff, probe)
	require.ErrorIs(t, err, shared.ErrMFACodeInvalid)
	require.Equal(t, []audit.EventType{audit.EventMFAFailure}, events.types())
}

func TestRequireMFAPolicyFailure(t *testing.T) {
	svc, _, _ := newFixture(true)
	svc.policy = policyStub{err: shared.Server("load policy", errors.New("db down"))}

	_, err := svc.RequireMFA(context.Background(), staff, "")
	require.ErrorIs(t, err, shared.ErrServer)
}

func TestEnrollAndConfirm(t *testing.T) {
	svc, factors, _ := newFixture(true)
	newcomer := shared.Identity{ID: "u-new", Email: "new@sentinel.test"}
	svc.access.(accessStub)[newcomer.ID] = rbac.AdminAccess{IsAdmin: true, Role: "manager"}

	enrollment, err := svc.Enroll(context.Background(), newcomer)
	require.NoError(t, err)
	require.Contains(t, enrollment.URI, "new@sentinel.test")
	require.False(t, factors.factors[newcomer.ID].Enabled)

	status, err := svc.RequireMFA(context.Background(), newcomer, "")
	require.NoError(t, err)
	require.False(t, status.Enabled)

	code := svc.totp.Code(factors.factors[newcomer.ID].Secret, fixedNow)
	require.NoError(t, svc.Confirm(context.Background(), newcomer, code))
	require.True(t, factors.factors[newcomer.ID].Enabled)

	_, err = svc.Enroll(context.Background(), newcomer)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEnrollRequiresStaff(t *testing.T) {
	svc, _, _ := newFixture(true)
	_, err := svc.Enroll(context.Background(), customer)
	require.ErrorIs(t, err, shared.ErrNotAdmin)
}

func TestConfirmUnknownFactor(t *testing.T) {
	svc, _, _ := newFixture(true)
	err := svc.Confirm(context.Background(), customer, "123456")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
