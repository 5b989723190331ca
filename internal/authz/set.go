package authz

import "fmt"

// Set bundles the verifiers of every resource type around one hierarchy.
type Set struct {
	Hierarchy *Hierarchy
	Client    *Verifier
	Note      *NoteVerifier
	User      *UserVerifier
}

// NewSet builds all verifiers. Any error is a misconfiguration.
func NewSet(h *Hierarchy) (*Set, error) {
	if h == nil {
		h = DefaultHierarchy()
	}
	client, err := NewVerifier(h, ClientPolicy())
	if err != nil {
		return nil, fmt.Errorf("client policy: %w", err)
	}
	note, err := NewNoteVerifier(h)
	if err != nil {
		return nil, fmt.Errorf("note policy: %w", err)
	}
	user, err := NewUserVerifier(h)
	if err != nil {
		return nil, fmt.Errorf("user policy: %w", err)
	}
	return &Set{Hierarchy: h, Client: client, Note: note, User: user}, nil
}

// Verifier returns the generic verifier of a resource by name.
func (s *Set) Verifier(resource string) (*Verifier, bool) {
	switch resource {
	case ResourceClient:
		return s.Client, true
	case ResourceNote:
		return s.Note.Verifier, true
	case ResourceUser:
		return s.User.Verifier, true
	}
	return nil, false
}
