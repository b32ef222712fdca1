package schedule

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSchema(db))
	return NewStore(db)
}

func mustBlock(t *testing.T, s *Store, facultyID int64, typ string, start, end time.Time, max int) Block {
	t.Helper()
	b := Block{
		FacultyID:   facultyID,
		Title:       "block",
		Type:        typ,
		StartTime:   start,
		EndTime:     end,
		IsPublic:    true,
		MaxStudents: max,
	}
	require.NoError(t, s.CreateBlock(context.Background(), &b))
	return b
}

func TestSlotLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	slot := AvailabilitySlot{
		FacultyID:   10,
		DayOfWeek:   "Monday",
		StartTime:   "09:00",
		EndTime:     "11:00",
		Location:    "Room 204",
		IsAvailable: true,
	}
	require.NoError(t, s.CreateSlot(ctx, &slot))
	assert.NotZero(t, slot.ID)

	got, err := s.SlotsForFaculty(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "09:00", got[0].StartTime)
	assert.True(t, got[0].IsAvailable)

	// Only the owner can delete.
	assert.ErrorIs(t, s.DeleteSlot(ctx, slot.ID, 99), ErrNotFound)
	require.NoError(t, s.DeleteSlot(ctx, slot.ID, 10))

	got, err = s.SlotsForFaculty(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOverlapDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	b := mustBlock(t, s, 10, TypeClass, base, base.Add(time.Hour), 0)

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", base.Add(10 * time.Minute), base.Add(20 * time.Minute), true},
		{"spanning", base.Add(-time.Hour), base.Add(2 * time.Hour), true},
		{"leading edge", base.Add(-30 * time.Minute), base.Add(30 * time.Minute), true},
		{"back to back after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"back to back before", base.Add(-time.Hour), base, false},
		{"disjoint", base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}
	for _, tc := range cases {
		got, err := s.Overlaps(ctx, 10, tc.start, tc.end, 0)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	// Another faculty's calendar is independent.
	got, err := s.Overlaps(ctx, 20, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.False(t, got)

	// Excluding the block itself lets updates keep their own window.
	got, err = s.Overlaps(ctx, 10, base, base.Add(time.Hour), b.ID)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestBlockCRUDScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	b := mustBlock(t, s, 10, TypeConsultation, base, base.Add(time.Hour), 3)

	got, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Title, got.Title)
	assert.True(t, got.StartTime.Equal(base))

	b.Title = "renamed"
	b.FacultyID = 99
	assert.ErrorIs(t, s.UpdateBlock(ctx, b), ErrNotFound)

	b.FacultyID = 10
	require.NoError(t, s.UpdateBlock(ctx, b))
	got, err = s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	assert.ErrorIs(t, s.DeleteBlock(ctx, b.ID, 99), ErrNotFound)
	require.NoError(t, s.DeleteBlock(ctx, b.ID, 10))
	_, err = s.GetBlock(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	early := mustBlock(t, s, 10, TypeClass, base, base.Add(time.Hour), 0)
	late := mustBlock(t, s, 10, TypeClass, base.Add(6*time.Hour), base.Add(7*time.Hour), 0)

	hidden := mustBlock(t, s, 20, TypeMeeting, base.Add(time.Hour), base.Add(2*time.Hour), 0)
	hidden.IsPublic = false
	require.NoError(t, s.UpdateBlock(ctx, hidden))

	from := base.Add(3 * time.Hour)
	got, err := s.ListForFaculty(ctx, 10, &from, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, late.ID, got[0].ID)

	got, err = s.ListPublic(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestBookingCapacityAndDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	b := mustBlock(t, s, 10, TypeOfficeHours, base, base.Add(time.Hour), 2)

	require.NoError(t, s.Book(ctx, b.ID, 1))
	assert.ErrorIs(t, s.Book(ctx, b.ID, 1), ErrAlreadyBooked)
	require.NoError(t, s.Book(ctx, b.ID, 2))
	assert.ErrorIs(t, s.Book(ctx, b.ID, 3), ErrBlockFull)

	assert.ErrorIs(t, s.Book(ctx, 999, 1), ErrNotFound)

	got, err := s.GetBlock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got.BookedIDs)

	// Cancelling frees the seat.
	require.NoError(t, s.CancelBooking(ctx, b.ID, 1))
	assert.ErrorIs(t, s.CancelBooking(ctx, b.ID, 1), ErrNotFound)
	require.NoError(t, s.Book(ctx, b.ID, 3))
}

func TestUnlimitedCapacity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	b := mustBlock(t, s, 10, TypeAvailable, base, base.Add(time.Hour), 0)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Book(ctx, b.ID, i))
	}
}

func TestBookedByStudent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	later := mustBlock(t, s, 10, TypeConsultation, base.Add(2*time.Hour), base.Add(3*time.Hour), 0)
	sooner := mustBlock(t, s, 20, TypeOfficeHours, base, base.Add(time.Hour), 0)
	mustBlock(t, s, 10, TypeClass, base.Add(4*time.Hour), base.Add(5*time.Hour), 0)

	require.NoError(t, s.Book(ctx, later.ID, 7))
	require.NoError(t, s.Book(ctx, sooner.ID, 7))

	got, err := s.BookedByStudent(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sooner.ID, got[0].ID)
	assert.Equal(t, later.ID, got[1].ID)
}
