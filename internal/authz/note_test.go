package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoteUpdateRequiresAuthorshipBelowManagingAdvisor(t *testing.T) {
	s := newSet(t)
	ctx := context.Background()

	assert.True(t, s.Note.IsGrantedToUpdate(ctx, actor(RoleAdvisor), Changes{"message": "hi"}, Ownership{OwnerID: actorID}))
	assert.False(t, s.Note.IsGrantedToUpdate(ctx, actor(RoleAdvisor), Changes{"message": "hi"}, Ownership{OwnerID: otherID}))
	assert.True(t, s.Note.IsGrantedToUpdate(ctx, actor(RoleManagingAdvisor), Changes{"message": "hi", "hidden": true}, Ownership{OwnerID: otherID}))
	assert.False(t, s.Note.IsGrantedToUpdate(ctx, actor(RoleNewcomer), Changes{"message": "hi"}, Ownership{OwnerID: actorID}))
	assert.False(t, s.Note.IsGrantedToUpdate(ctx, actor(RoleAdministrator), Changes{"user_id": actorID}, Ownership{OwnerID: otherID}))
}

func TestHiddenNoteVisibility(t *testing.T) {
	s := newSet(t)
	ctx := context.Background()
	hidden := NoteAccess{OwnerID: otherID, ClientOwnerID: "user-3", Hidden: true}

	assert.False(t, s.Note.IsGrantedToReadNote(ctx, actor(RoleAdvisor), hidden))
	assert.True(t, s.Note.IsGrantedToReadNote(ctx, actor(RoleManagingAdvisor), hidden))
	assert.True(t, s.Note.IsGrantedToReadNote(ctx, Actor{ID: otherID, Role: RoleNewcomer}, hidden))
	assert.True(t, s.Note.IsGrantedToReadNote(ctx, Actor{ID: "user-3", Role: RoleNewcomer}, hidden))

	visible := hidden
	visible.Hidden = false
	assert.True(t, s.Note.IsGrantedToReadNote(ctx, actor(RoleNewcomer), visible))

	deletedAt := time.Now()
	deleted := NoteAccess{OwnerID: actorID, DeletedAt: &deletedAt}
	assert.False(t, s.Note.IsGrantedToReadNote(ctx, actor(RoleAdvisor), deleted))
}
