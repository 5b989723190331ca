package authz

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clientRow struct {
	ID        string
	OwnerID   string
	DeletedAt *time.Time
}

func TestFilterAuthorized(t *testing.T) {
	s := newSet(t)
	buf := captureLog(t)
	deletedAt := time.Now()
	rows := []clientRow{
		{ID: "c1", OwnerID: actorID},
		{ID: "c2", OwnerID: otherID, DeletedAt: &deletedAt},
		{ID: "c3"},
	}
	ownershipOf := func(r clientRow) Ownership { return Ownership{OwnerID: r.OwnerID, DeletedAt: r.DeletedAt} }

	got := FilterAuthorized(context.Background(), s.Client, actor(RoleAdvisor), rows, ownershipOf)
	assert.Equal(t, []clientRow{rows[0], rows[2]}, got)
	assert.Empty(t, buf.String())

	got = FilterAuthorized(context.Background(), s.Client, actor(RoleManagingAdvisor), rows, ownershipOf)
	assert.Len(t, got, 3)

	got = FilterAuthorized(context.Background(), s.Client, Actor{}, rows, ownershipOf)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 1, strings.Count(buf.String(), `"event":"authz.missing_actor"`), "one line per call, not per item")
}

func TestFilterReadableNotesMissingActor(t *testing.T) {
	s := newSet(t)
	buf := captureLog(t)
	notes := []NoteAccess{{OwnerID: otherID}, {OwnerID: actorID}, {OwnerID: otherID, Hidden: true}}

	got := FilterReadableNotes(context.Background(), s.Note, Actor{ID: actorID}, notes, func(n NoteAccess) NoteAccess { return n })
	assert.Empty(t, got)
	assert.Equal(t, 1, strings.Count(buf.String(), `"event":"authz.missing_actor"`))
}

func TestFilterReadableNotes(t *testing.T) {
	s := newSet(t)
	notes := []NoteAccess{
		{OwnerID: otherID, Hidden: true},
		{OwnerID: otherID},
		{OwnerID: actorID, Hidden: true},
	}
	got := FilterReadableNotes(context.Background(), s.Note, actor(RoleAdvisor), notes, func(n NoteAccess) NoteAccess { return n })
	assert.Equal(t, []NoteAccess{notes[1], notes[2]}, got)
}
