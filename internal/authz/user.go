package authz

import (
	"context"
	"fmt"
	"time"
)

// UserTarget is the account a user-management decision is about.
type UserTarget struct {
	ID        string
	Role      Role
	DeletedAt *time.Time
}

// Ownership treats the account as owned by itself.
func (t UserTarget) Ownership() Ownership {
	return Ownership{OwnerID: t.ID, DeletedAt: t.DeletedAt}
}

// UserVerifier adds role-aware rules for user accounts on top of the generic verifier.
// Outside their own account, actors other than administrators may only act on accounts
// they strictly outrank.
type UserVerifier struct {
	*Verifier
}

// NewUserVerifier builds the user verifier from UserPolicy.
func NewUserVerifier(h *Hierarchy) (*UserVerifier, error) {
	v, err := NewVerifier(h, UserPolicy())
	if err != nil {
		return nil, err
	}
	return &UserVerifier{Verifier: v}, nil
}

// Silent returns a user verifier that does not record denials.
func (u *UserVerifier) Silent() *UserVerifier {
	return &UserVerifier{Verifier: u.Verifier.Silent()}
}

// IsGrantedToCreateUser reports whether actor may create an account with newRole.
func (u *UserVerifier) IsGrantedToCreateUser(ctx context.Context, actor Actor, newRole Role) bool {
	if !u.checkActor(ctx, actor, OpCreate) {
		return false
	}
	granted := u.h.AtLeast(actor.Role, u.policy.CreateFloor) && u.canGrantRole(actor, newRole)
	if !granted {
		u.deny(ctx, OpCreate, actor, map[string]any{"role": string(newRole)})
	}
	return u.observe(OpCreate, granted)
}

// IsGrantedToAssignRole reports whether actor may give target the role newRole.
func (u *UserVerifier) IsGrantedToAssignRole(ctx context.Context, actor Actor, target UserTarget, newRole Role) bool {
	if !u.checkActor(ctx, actor, OpAssign) {
		return false
	}
	granted := u.roleAssignable(actor, target, newRole)
	if !granted {
		u.deny(ctx, OpAssign, actor, map[string]any{
			"owner_id":    target.ID,
			"target_role": string(target.Role),
			"role":        string(newRole),
		})
	}
	return u.observe(OpAssign, granted)
}

// AssignableRoles lists the roles actor may give target, most privileged first.
func (u *UserVerifier) AssignableRoles(ctx context.Context, actor Actor, target UserTarget) []Role {
	if !u.checkActor(ctx, actor, OpAssign) {
		return nil
	}
	var roles []Role
	for _, r := range AllRoles {
		if u.roleAssignable(actor, target, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// IsGrantedToUpdateUser reports whether actor may apply every change to target.
// The role field is decided by IsGrantedToAssignRole using the proposed value.
func (u *UserVerifier) IsGrantedToUpdateUser(ctx context.Context, actor Actor, changes Changes, target UserTarget) bool {
	if !u.checkActor(ctx, actor, OpUpdate) {
		return false
	}
	if !u.mayActOn(actor, target) {
		u.deny(ctx, OpUpdate, actor, map[string]any{"owner_id": target.ID, "target_role": string(target.Role)})
		return u.observe(OpUpdate, false)
	}
	granted := u.grantedFields(actor, changes, target.Ownership())
	if value, ok := changes[FieldRole]; ok && u.roleChangeGranted(actor, target, value) {
		granted[FieldRole] = struct{}{}
	}
	return u.observe(OpUpdate, u.allGranted(ctx, actor, changes, target.Ownership(), granted))
}

// IsGrantedToDeleteUser reports whether actor may delete target.
func (u *UserVerifier) IsGrantedToDeleteUser(ctx context.Context, actor Actor, target UserTarget) bool {
	if !u.IsGrantedToDelete(ctx, actor, target.Ownership()) {
		return false
	}
	if !u.mayActOn(actor, target) {
		u.deny(ctx, OpDelete, actor, map[string]any{"owner_id": target.ID, "target_role": string(target.Role)})
		return u.observe(OpDelete, false)
	}
	return true
}

// ForTarget binds the verifier to one account so it satisfies RecordAuthorizer.
func (u *UserVerifier) ForTarget(target UserTarget) RecordAuthorizer {
	return userRecord{u: u, target: target}
}

func (u *UserVerifier) mayActOn(actor Actor, target UserTarget) bool {
	if actor.ID == target.ID || actor.Role == RoleAdministrator {
		return true
	}
	return u.h.Outranks(actor.Role, target.Role)
}

func (u *UserVerifier) canGrantRole(actor Actor, newRole Role) bool {
	if _, err := ParseRole(string(newRole)); err != nil {
		return false
	}
	if actor.Role == RoleAdministrator {
		return true
	}
	return u.h.Outranks(actor.Role, newRole)
}

func (u *UserVerifier) roleAssignable(actor Actor, target UserTarget, newRole Role) bool {
	if !u.h.AtLeast(actor.Role, u.policy.AssignFloor) {
		return false
	}
	if actor.Role == RoleAdministrator {
		return u.canGrantRole(actor, newRole)
	}
	if actor.ID == target.ID {
		return false
	}
	return u.h.Outranks(actor.Role, target.Role) && u.canGrantRole(actor, newRole)
}

// roleChangeGranted decides the role field. The privilege placeholder asks whether any
// role at all may be given.
func (u *UserVerifier) roleChangeGranted(actor Actor, target UserTarget, value any) bool {
	if s, ok := value.(string); ok && s == placeholder {
		for _, r := range AllRoles {
			if u.roleAssignable(actor, target, r) {
				return true
			}
		}
		return false
	}
	newRole, err := roleFromValue(value)
	return err == nil && u.roleAssignable(actor, target, newRole)
}

func roleFromValue(value any) (Role, error) {
	switch t := value.(type) {
	case Role:
		return ParseRole(string(t))
	case string:
		return ParseRole(t)
	}
	return "", fmt.Errorf("%w: %v", ErrUnknownRole, value)
}

type userRecord struct {
	u      *UserVerifier
	target UserTarget
}

func (r userRecord) Resource() string { return r.u.Resource() }

func (r userRecord) Fields() []string {
	return append(r.u.Fields(), FieldRole)
}

func (r userRecord) IsGrantedToRead(ctx context.Context, actor Actor, _ Ownership) bool {
	return r.u.IsGrantedToRead(ctx, actor, r.target.Ownership())
}

func (r userRecord) IsGrantedToUpdate(ctx context.Context, actor Actor, changes Changes, _ Ownership) bool {
	return r.u.IsGrantedToUpdateUser(ctx, actor, changes, r.target)
}

func (r userRecord) IsGrantedToDelete(ctx context.Context, actor Actor, _ Ownership) bool {
	return r.u.IsGrantedToDeleteUser(ctx, actor, r.target)
}
