package roles

import (
	"strings"
	"time"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Role is one entry of the fixed role catalog.
type Role string

// Role catalog, highest privilege first.
const (
	SuperAdmin         Role = "super_admin"
	Admin              Role = "admin"
	CategoryManager    Role = "category_manager"
	SocialMediaManager Role = "social_media_manager"
	PartnerManager     Role = "partner_manager"
	CFO                Role = "cfo"
	Player             Role = "player"
)

// Highest is the role that holds every permission.
const Highest = SuperAdmin

// DefaultRole applies to identities without a stored role.
const DefaultRole = Player

var catalog = []Role{SuperAdmin, Admin, CategoryManager, SocialMediaManager, PartnerManager, CFO, Player}

// All returns the role catalog.
func All() []Role {
	out := make([]Role, len(catalog))
	copy(out, catalog)
	return out
}

// Valid reports whether r is part of the catalog.
func (r Role) Valid() bool {
	for _, c := range catalog {
		if c == r {
			return true
		}
	}
	return false
}

// IsHighest reports whether r is the highest role.
func (r Role) IsHighest() bool {
	return r == Highest
}

// IsStaff reports whether r grants admin-panel access. Every role except player does.
func (r Role) IsStaff() bool {
	return r.Valid() && r != Player
}

func (r Role) String() string {
	return string(r)
}

// Parse converts raw into a Role, rejecting anything outside the catalog.
func Parse(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", shared.ErrInvalidRole
	}
	return r, nil
}

// Record is the persisted role assignment for an identity.
type Record struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge states that Parent contains everything Child can do.
type Edge struct {
	Parent Role `json:"parent_role" yaml:"parent"`
	Child  Role `json:"child_role" yaml:"child"`
}

// DefaultEdges is the hierarchy seeded on a fresh install.
func DefaultEdges() []Edge {
	return []Edge{
		{Parent: SuperAdmin, Child: Admin},
		{Parent: Admin, Child: CategoryManager},
		{Parent: Admin, Child: SocialMediaManager},
		{Parent: Admin, Child: PartnerManager},
		{Parent: Admin, Child: CFO},
		{Parent: CategoryManager, Child: Player},
		{Parent: SocialMediaManager, Child: Player},
		{Parent: PartnerManager, Child: Player},
		{Parent: CFO, Child: Player},
	}
}
