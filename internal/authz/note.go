package authz

import (
	"context"
	"time"
)

// NoteAccess carries the attributes of a note that drive read decisions.
type NoteAccess struct {
	OwnerID       string
	ClientOwnerID string
	Hidden        bool
	DeletedAt     *time.Time
}

// Ownership returns the generic ownership of the note.
func (n NoteAccess) Ownership() Ownership {
	return Ownership{OwnerID: n.OwnerID, DeletedAt: n.DeletedAt}
}

// NoteVerifier adds hidden-note visibility on top of the generic verifier.
type NoteVerifier struct {
	*Verifier
	hiddenFloor Role
}

// NewNoteVerifier builds the note verifier from NotePolicy.
func NewNoteVerifier(h *Hierarchy) (*NoteVerifier, error) {
	v, err := NewVerifier(h, NotePolicy())
	if err != nil {
		return nil, err
	}
	return &NoteVerifier{Verifier: v, hiddenFloor: RoleManagingAdvisor}, nil
}

// Silent returns a note verifier that does not record denials.
func (n *NoteVerifier) Silent() *NoteVerifier {
	return &NoteVerifier{Verifier: n.Verifier.Silent(), hiddenFloor: n.hiddenFloor}
}

// IsGrantedToReadNote applies the generic read rule, then restricts hidden notes to their
// author, the owner of the client and managing advisors or above.
func (n *NoteVerifier) IsGrantedToReadNote(ctx context.Context, actor Actor, note NoteAccess) bool {
	if !n.IsGrantedToRead(ctx, actor, note.Ownership()) {
		return false
	}
	if !note.Hidden {
		return true
	}
	if note.OwnerID == actor.ID || (note.ClientOwnerID != "" && note.ClientOwnerID == actor.ID) ||
		n.h.AtLeast(actor.Role, n.hiddenFloor) {
		return true
	}
	n.deny(ctx, OpRead, actor, map[string]any{"owner_id": note.OwnerID, "hidden": true})
	return n.observe(OpRead, false)
}
