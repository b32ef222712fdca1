package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larksolutions/queueing/internal/identity"
)

func TestListRoleViews(t *testing.T) {
	s := newTestStore(t)
	q := NewQuery(s)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	unassigned := mustCreate(t, s, "ID", 1, day)
	mine := mustCreate(t, s, "ID", 2, day.Add(time.Minute))
	theirs := mustCreate(t, s, "OJT", 3, day.Add(2*time.Minute))

	me := identity.User{ID: 10, Role: identity.RoleFaculty}
	otherID := int64(20)
	prog := StatusInProgress
	_, err := s.Update(ctx, mine.ID, Patch{Status: &prog, FacultyID: &me.ID})
	require.NoError(t, err)
	_, err = s.Update(ctx, theirs.ID, Patch{Status: &prog, FacultyID: &otherID})
	require.NoError(t, err)

	// Faculty default view hides other faculty's in-progress work.
	got, err := q.List(ctx, Filter{}, me)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, unassigned.ID, got[0].ID)
	assert.Equal(t, mine.ID, got[1].ID)

	// A waiting filter shows all unclaimed work to any faculty.
	waiting := StatusWaiting
	got, err = q.List(ctx, Filter{Status: &waiting}, me)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, unassigned.ID, got[0].ID)

	// Students and admins see everything the filter allows.
	got, err = q.List(ctx, Filter{}, identity.User{ID: 1, Role: identity.RoleStudent})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = q.List(ctx, Filter{}, identity.User{ID: 99, Role: identity.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = q.List(ctx, Filter{}, identity.User{ID: 5, Role: "JANITOR"})
	assert.ErrorIs(t, err, ErrForbidden)
}
