package authz

import "context"

// Privilege is a presentation label derived from the verifiers. It is recomputed on every
// access and never stored.
type Privilege string

const (
	PrivilegeFull        Privilege = "full"
	PrivilegeConditional Privilege = "conditional"
	PrivilegeReadOnly    Privilege = "read_only"
	PrivilegeNone        Privilege = "none"
)

// placeholder stands in for the proposed value when only key presence matters.
const placeholder = "value"

// PrivilegeDeterminer maps verifier decisions to privilege labels for UI affordances.
type PrivilegeDeterminer struct {
	a RecordAuthorizer
}

// NewPrivilegeDeterminer wraps a. Decisions made through it are not recorded as denials.
func NewPrivilegeDeterminer(a RecordAuthorizer) *PrivilegeDeterminer {
	return &PrivilegeDeterminer{a: quiet(a)}
}

// MutationPrivilege returns full when actor may delete the record, conditional when it may
// update column, none otherwise.
func (d *PrivilegeDeterminer) MutationPrivilege(ctx context.Context, actor Actor, own Ownership, column string) Privilege {
	if d.a.IsGrantedToDelete(ctx, actor, own) {
		return PrivilegeFull
	}
	if d.a.IsGrantedToUpdate(ctx, actor, Changes{column: placeholder}, own) {
		return PrivilegeConditional
	}
	return PrivilegeNone
}

// RecordPrivilege summarizes what actor may do with the whole record.
func (d *PrivilegeDeterminer) RecordPrivilege(ctx context.Context, actor Actor, own Ownership) Privilege {
	if d.a.IsGrantedToDelete(ctx, actor, own) {
		return PrivilegeFull
	}
	for _, field := range d.a.Fields() {
		if d.a.IsGrantedToUpdate(ctx, actor, Changes{field: placeholder}, own) {
			return PrivilegeConditional
		}
	}
	if d.a.IsGrantedToRead(ctx, actor, own) {
		return PrivilegeReadOnly
	}
	return PrivilegeNone
}

// FieldPrivileges returns the mutation privilege of every field of the resource.
func (d *PrivilegeDeterminer) FieldPrivileges(ctx context.Context, actor Actor, own Ownership) map[string]Privilege {
	fields := d.a.Fields()
	out := make(map[string]Privilege, len(fields))
	if d.a.IsGrantedToDelete(ctx, actor, own) {
		for _, f := range fields {
			out[f] = PrivilegeFull
		}
		return out
	}
	for _, f := range fields {
		if d.a.IsGrantedToUpdate(ctx, actor, Changes{f: placeholder}, own) {
			out[f] = PrivilegeConditional
		} else {
			out[f] = PrivilegeNone
		}
	}
	return out
}
