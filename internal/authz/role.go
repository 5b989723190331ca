package authz

import (
	"fmt"
	"strings"
)

// Role is a user role. Roles are totally ordered through a Hierarchy.
type Role string

const (
	RoleAdministrator   Role = "administrator"
	RoleManagingAdvisor Role = "managing_advisor"
	RoleAdvisor         Role = "advisor"
	RoleNewcomer        Role = "newcomer"
)

// AllRoles lists the roles from most to least privileged.
var AllRoles = []Role{RoleAdministrator, RoleManagingAdvisor, RoleAdvisor, RoleNewcomer}

// ParseRole converts a stored or transmitted role name into a Role.
func ParseRole(name string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(name)))
	for _, r := range AllRoles {
		if r == role {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

func (r Role) String() string { return string(r) }

// Hierarchy maps roles to ranks. A lower rank is more privileged.
// It is immutable once constructed.
type Hierarchy struct {
	ranks map[Role]int
}

// DefaultRanks is the static rank table loaded at startup.
func DefaultRanks() map[Role]int {
	return map[Role]int{
		RoleAdministrator:   1,
		RoleManagingAdvisor: 2,
		RoleAdvisor:         3,
		RoleNewcomer:        4,
	}
}

// NewHierarchy validates ranks and builds a Hierarchy. Every known role must be present
// with a distinct positive rank.
func NewHierarchy(ranks map[Role]int) (*Hierarchy, error) {
	if len(ranks) != len(AllRoles) {
		return nil, fmt.Errorf("%w: expected %d roles, got %d", ErrUnknownRole, len(AllRoles), len(ranks))
	}
	seen := make(map[int]Role, len(ranks))
	copied := make(map[Role]int, len(ranks))
	for role, rank := range ranks {
		if _, err := ParseRole(string(role)); err != nil {
			return nil, err
		}
		if rank <= 0 {
			return nil, fmt.Errorf("authz: rank of %s must be positive, got %d", role, rank)
		}
		if other, dup := seen[rank]; dup {
			return nil, fmt.Errorf("authz: roles %s and %s share rank %d", other, role, rank)
		}
		seen[rank] = role
		copied[role] = rank
	}
	return &Hierarchy{ranks: copied}, nil
}

// DefaultHierarchy returns the hierarchy built from DefaultRanks.
func DefaultHierarchy() *Hierarchy {
	h, err := NewHierarchy(DefaultRanks())
	if err != nil {
		panic(err)
	}
	return h
}

// Rank returns the rank of role. An unknown role is a deployment error and panics.
func (h *Hierarchy) Rank(role Role) int {
	rank, ok := h.ranks[role]
	if !ok {
		panic(fmt.Sprintf("authz: no rank configured for role %q", role))
	}
	return rank
}

// Ranks returns a copy of the rank table.
func (h *Hierarchy) Ranks() map[Role]int {
	out := make(map[Role]int, len(h.ranks))
	for role, rank := range h.ranks {
		out[role] = rank
	}
	return out
}

// AtLeast reports whether role is as privileged as floor or more.
func (h *Hierarchy) AtLeast(role, floor Role) bool {
	return h.Rank(role) <= h.Rank(floor)
}

// Outranks reports whether role is strictly more privileged than other.
func (h *Hierarchy) Outranks(role, other Role) bool {
	return h.Rank(role) < h.Rank(other)
}
