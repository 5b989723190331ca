package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"clientdesk.org/internal/audit"
	"clientdesk.org/internal/obs"
)

// Operation names used in audit lines and metrics.
const (
	OpCreate = "create"
	OpAssign = "assign"
	OpUpdate = "update"
	OpDelete = "delete"
	OpRead   = "read"
)

// Verifier decides create, assign, update, delete and read grants for one resource type.
// Ordinary denial is a false return value, never an error, so results can drive UI
// affordances as well as hard denials.
type Verifier struct {
	policy Policy
	h      *Hierarchy
	quiet  bool
}

// NewVerifier builds a verifier for p after validating it.
func NewVerifier(h *Hierarchy, p Policy) (*Verifier, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: hierarchy is required", ErrInvalidPolicy)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{policy: p, h: h}, nil
}

// Silent returns a verifier that decides identically but does not record denials.
// Missing-actor errors are still logged.
func (v *Verifier) Silent() *Verifier {
	c := *v
	c.quiet = true
	return &c
}

// Resource returns the resource name of the policy.
func (v *Verifier) Resource() string { return v.policy.Resource }

// Fields returns every field the policy can grant.
func (v *Verifier) Fields() []string { return v.policy.FieldNames() }

// Policy returns the rule table.
func (v *Verifier) Policy() Policy { return v.policy }

// Hierarchy returns the role hierarchy the verifier ranks actors with.
func (v *Verifier) Hierarchy() *Hierarchy { return v.h }

// IsGrantedToCreate reports whether actor may create a record owned by proposedOwnerID.
// An empty proposedOwnerID creates an unassigned record.
func (v *Verifier) IsGrantedToCreate(ctx context.Context, actor Actor, proposedOwnerID string) bool {
	if !v.checkActor(ctx, actor, OpCreate) {
		return false
	}
	granted := v.h.AtLeast(actor.Role, v.policy.CreateFloor) && v.assignable(actor, proposedOwnerID)
	if !granted {
		v.deny(ctx, OpCreate, actor, map[string]any{"owner_id": proposedOwnerID})
	}
	return v.observe(OpCreate, granted)
}

// IsGrantedToAssign reports whether actor may assign a record to ownerID.
// It is the only rule deciding who a record can be assigned to.
func (v *Verifier) IsGrantedToAssign(ctx context.Context, actor Actor, ownerID string) bool {
	if !v.checkActor(ctx, actor, OpAssign) {
		return false
	}
	granted := v.assignable(actor, ownerID)
	if !granted {
		v.deny(ctx, OpAssign, actor, map[string]any{"owner_id": ownerID})
	}
	return v.observe(OpAssign, granted)
}

// FilterAssignableOwners keeps the candidate owner ids actor may assign records to.
func (v *Verifier) FilterAssignableOwners(ctx context.Context, actor Actor, candidates []string) []string {
	if !v.checkActor(ctx, actor, OpAssign) {
		return nil
	}
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if v.assignable(actor, id) {
			out = append(out, id)
		}
	}
	return out
}

// IsGrantedToUpdate reports whether actor may apply every change in changes to the record.
// A single field outside the granted set denies the whole change set.
func (v *Verifier) IsGrantedToUpdate(ctx context.Context, actor Actor, changes Changes, own Ownership) bool {
	if !v.checkActor(ctx, actor, OpUpdate) {
		return false
	}
	granted := v.grantedFields(actor, changes, own)
	return v.observe(OpUpdate, v.allGranted(ctx, actor, changes, own, granted))
}

// IsGrantedToDelete reports whether actor may delete the record. Ownership does not lower
// the delete floor.
func (v *Verifier) IsGrantedToDelete(ctx context.Context, actor Actor, own Ownership) bool {
	if !v.checkActor(ctx, actor, OpDelete) {
		return false
	}
	granted := v.h.AtLeast(actor.Role, v.policy.DeleteFloor)
	if !granted {
		v.deny(ctx, OpDelete, actor, map[string]any{"owner_id": own.OwnerID})
	}
	return v.observe(OpDelete, granted)
}

// IsGrantedToRead reports whether actor may read the record. Soft-deleted records need the
// read-deleted floor.
func (v *Verifier) IsGrantedToRead(ctx context.Context, actor Actor, own Ownership) bool {
	if !v.checkActor(ctx, actor, OpRead) {
		return false
	}
	floor := v.policy.ReadFloor
	if own.Deleted() {
		floor = v.policy.ReadDeletedFloor
	}
	granted := v.h.AtLeast(actor.Role, floor)
	if !granted {
		v.deny(ctx, OpRead, actor, map[string]any{"owner_id": own.OwnerID, "deleted": own.Deleted()})
	}
	return v.observe(OpRead, granted)
}

func (v *Verifier) assignable(actor Actor, ownerID string) bool {
	if v.h.AtLeast(actor.Role, v.policy.AssignAnyFloor) {
		return true
	}
	if !v.h.AtLeast(actor.Role, v.policy.AssignFloor) {
		return false
	}
	ownerID = strings.TrimSpace(ownerID)
	return ownerID == "" || ownerID == actor.ID
}

// grantedFields returns the fields of the change set actor may change on the record.
func (v *Verifier) grantedFields(actor Actor, changes Changes, own Ownership) map[string]struct{} {
	owner := own.OwnedBy(actor.ID)
	granted := make(map[string]struct{}, len(changes))
	for field, rule := range v.policy.Fields {
		floor := rule.Floor
		if !owner && rule.OthersFloor != "" {
			floor = rule.OthersFloor
		}
		if v.h.AtLeast(actor.Role, floor) {
			granted[field] = struct{}{}
		}
	}
	if f := v.policy.OwnerField; f != "" {
		if value, ok := changes[f]; ok {
			if ownerID, ok := ownerIDFromValue(value); ok && v.assignable(actor, ownerID) {
				granted[f] = struct{}{}
			}
		}
	}
	if f := v.policy.DeletedField; f != "" {
		if _, ok := changes[f]; ok && v.h.AtLeast(actor.Role, v.policy.DeleteFloor) {
			granted[f] = struct{}{}
		}
	}
	return granted
}

func (v *Verifier) allGranted(ctx context.Context, actor Actor, changes Changes, own Ownership, granted map[string]struct{}) bool {
	if len(changes) == 0 {
		v.deny(ctx, OpUpdate, actor, map[string]any{"owner_id": own.OwnerID, "reason": "empty change set"})
		return false
	}
	for _, field := range changes.Keys() {
		if _, ok := granted[field]; !ok {
			v.deny(ctx, OpUpdate, actor, map[string]any{
				"owner_id": own.OwnerID,
				"field":    field,
				"value":    fmt.Sprint(changes[field]),
			})
			return false
		}
	}
	return true
}

func (v *Verifier) checkActor(ctx context.Context, actor Actor, op string) bool {
	if actor.Authenticated() {
		return true
	}
	_ = audit.LogError(ctx, "authz.missing_actor", map[string]any{
		"resource":  v.policy.Resource,
		"operation": op,
	})
	v.observe(op, false)
	return false
}

func (v *Verifier) deny(ctx context.Context, op string, actor Actor, fields map[string]any) {
	if v.quiet {
		return
	}
	fields["resource"] = v.policy.Resource
	fields["operation"] = op
	fields["actor_id"] = actor.ID
	fields["actor_role"] = string(actor.Role)
	_ = audit.LogDenial(ctx, "authz.denied", fields)
}

func (v *Verifier) observe(op string, granted bool) bool {
	if !v.quiet {
		obs.ObserveDecision(v.policy.Resource, op, granted)
	}
	return granted
}

// ownerIDFromValue interprets a proposed owner value. nil clears the assignment.
func ownerIDFromValue(value any) (string, bool) {
	switch t := value.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(t), true
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
	}
	return "", false
}
