package authz

import (
	"context"

	"clientdesk.org/internal/audit"
)

// FilterAuthorized keeps the items actor may read. Denials are not recorded per item.
func FilterAuthorized[T any](ctx context.Context, a RecordAuthorizer, actor Actor, items []T, ownershipOf func(T) Ownership) []T {
	if !filterActor(ctx, a.Resource(), actor) {
		return []T{}
	}
	a = quiet(a)
	out := make([]T, 0, len(items))
	for _, item := range items {
		if a.IsGrantedToRead(ctx, actor, ownershipOf(item)) {
			out = append(out, item)
		}
	}
	return out
}

// FilterReadableNotes keeps the notes actor may read, hidden-note rule included.
func FilterReadableNotes[T any](ctx context.Context, n *NoteVerifier, actor Actor, items []T, accessOf func(T) NoteAccess) []T {
	if !filterActor(ctx, n.Resource(), actor) {
		return []T{}
	}
	n = n.Silent()
	out := make([]T, 0, len(items))
	for _, item := range items {
		if n.IsGrantedToReadNote(ctx, actor, accessOf(item)) {
			out = append(out, item)
		}
	}
	return out
}

// filterActor records a missing actor once for the whole list.
func filterActor(ctx context.Context, resource string, actor Actor) bool {
	if actor.Authenticated() {
		return true
	}
	_ = audit.LogError(ctx, "authz.missing_actor", map[string]any{
		"resource":  resource,
		"operation": OpRead,
	})
	return false
}

func quiet(a RecordAuthorizer) RecordAuthorizer {
	switch t := a.(type) {
	case *Verifier:
		return t.Silent()
	case *NoteVerifier:
		return t.Silent()
	case *UserVerifier:
		return t.Silent()
	case userRecord:
		return userRecord{u: t.u.Silent(), target: t.target}
	}
	return a
}
