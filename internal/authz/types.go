package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Actor is the authenticated user a decision is made for. It lives for one request.
type Actor struct {
	ID   string
	Role Role
}

// Authenticated reports whether the actor carries an id and a role.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != "" && a.Role != ""
}

// Ownership describes the record a decision is about.
type Ownership struct {
	// OwnerID is empty when the record is unassigned.
	OwnerID   string
	DeletedAt *time.Time
}

// Deleted reports whether the record carries a soft-delete marker.
func (o Ownership) Deleted() bool { return o.DeletedAt != nil }

// OwnedBy reports whether the record is assigned to actorID.
func (o Ownership) OwnedBy(actorID string) bool {
	return o.OwnerID != "" && o.OwnerID == actorID
}

// Changes maps field names to proposed values. Only key presence matters for most rules.
type Changes map[string]any

// Keys returns the field names in sorted order.
func (c Changes) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RoleFinder resolves the current role of a user.
type RoleFinder interface {
	FindRole(ctx context.Context, userID string) (Role, error)
}

// ResolveActor looks up the current role of userID. Roles are read on every call so a
// role change takes effect on the next request.
func ResolveActor(ctx context.Context, finder RoleFinder, userID string) (Actor, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Actor{}, ErrMissingActor
	}
	role, err := finder.FindRole(ctx, userID)
	if err != nil {
		return Actor{}, fmt.Errorf("resolve role of %s: %w", userID, err)
	}
	return Actor{ID: userID, Role: role}, nil
}

// RecordAuthorizer is the per-record view shared by the resource verifiers.
type RecordAuthorizer interface {
	Resource() string
	Fields() []string
	IsGrantedToRead(ctx context.Context, actor Actor, own Ownership) bool
	IsGrantedToUpdate(ctx context.Context, actor Actor, changes Changes, own Ownership) bool
	IsGrantedToDelete(ctx context.Context, actor Actor, own Ownership) bool
}
