package settings

import "time"

// Setting keys in security_settings; they double as config cache keys.
const (
	KeyAllowedIPs = "allowed_ips"
	KeyMFAPolicy  = "mfa_policy"
)

// AdminEmailsKey is the config cache key for the dynamic protected admin list.
const AdminEmailsKey = "admin_emails"

// MFAPolicy controls when staff must present a second factor.
type MFAPolicy struct {
	EnforceForStaff bool `json:"enforce_for_staff"`
}

// DefaultMFAPolicy applies when nothing is stored.
func DefaultMFAPolicy() MFAPolicy {
	return MFAPolicy{EnforceForStaff: true}
}

// ProtectedAdmin is one dynamic entry of the protected admin list.
type ProtectedAdmin struct {
	Email     string    `json:"email"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}
