package queue

import (
	"context"
	"database/sql"
	"sync"
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
	// In-memory sqlite gives every connection its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSchema(db))
	return NewStore(db, time.UTC, 15)
}

func mustCreate(t *testing.T, s *Store, category string, studentID int64, at time.Time) Ticket {
	t.Helper()
	tk := Ticket{
		Category:    category,
		Purpose:     "test purpose",
		Priority:    PriorityNormal,
		Status:      StatusWaiting,
		CheckInTime: at,
		StudentID:   studentID,
	}
	require.NoError(t, s.Create(context.Background(), &tk))
	return tk
}

func TestCreateAllocatesContiguousNumbers(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	a := mustCreate(t, s, "ID", 1, day)
	b := mustCreate(t, s, "OJT", 2, day.Add(time.Minute))
	c := mustCreate(t, s, "ID", 3, day.Add(2*time.Minute))

	assert.Equal(t, 1, a.TicketNumber)
	assert.Equal(t, 2, b.TicketNumber)
	assert.Equal(t, 3, c.TicketNumber)
}

func TestCreateSnapshotsPositionAndWait(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	a := mustCreate(t, s, "ID", 1, day)
	b := mustCreate(t, s, "ID", 2, day.Add(time.Minute))
	c := mustCreate(t, s, "ID", 3, day.Add(2*time.Minute))
	other := mustCreate(t, s, "OJT", 4, day.Add(3*time.Minute))

	assert.Equal(t, 1, a.PositionInCategory)
	assert.Equal(t, 0, a.EstimatedWaitMinutes)
	assert.Equal(t, 2, b.PositionInCategory)
	assert.Equal(t, 15, b.EstimatedWaitMinutes)
	assert.Equal(t, 3, c.PositionInCategory)
	assert.Equal(t, 30, c.EstimatedWaitMinutes)

	// Positions count per category, not per day.
	assert.Equal(t, 1, other.PositionInCategory)
	assert.Equal(t, 0, other.EstimatedWaitMinutes)
}

func TestNumberingResetsAcrossDays(t *testing.T) {
	s := newTestStore(t)
	monday := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	tuesday := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	a := mustCreate(t, s, "ID", 1, monday)
	b := mustCreate(t, s, "ID", 2, tuesday)

	assert.Equal(t, 1, a.TicketNumber)
	assert.Equal(t, 1, b.TicketNumber)
}

func TestConcurrentCreatesGetUniqueNumbers(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	const n = 10
	results := make(chan Ticket, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := Ticket{
				Category:    "ID",
				Purpose:     "concurrent",
				Priority:    PriorityNormal,
				Status:      StatusWaiting,
				CheckInTime: day.Add(time.Duration(i) * time.Millisecond),
				StudentID:   int64(i + 1),
			}
			if err := s.Create(context.Background(), &tk); err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results <- tk
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for tk := range results {
		assert.False(t, seen[tk.TicketNumber], "duplicate number %d", tk.TicketNumber)
		seen[tk.TicketNumber] = true
	}
	assert.Len(t, seen, n)
}

func TestInsertDuplicateNumberIsFatal(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mustCreate(t, s, "ID", 1, day)

	dup := Ticket{
		TicketNumber: 1,
		Category:     "ID",
		Purpose:      "dup",
		Priority:     PriorityNormal,
		Status:       StatusWaiting,
		CheckInTime:  day.Add(time.Minute),
		StudentID:    2,
	}
	err := s.Insert(context.Background(), &dup)
	assert.ErrorIs(t, err, ErrDuplicateTicketNumber)
}

func TestFindByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOrdersByCheckInTime(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mustCreate(t, s, "ID", 1, day.Add(2*time.Minute))
	mustCreate(t, s, "ID", 2, day)
	mustCreate(t, s, "ID", 3, day.Add(time.Minute))

	got, err := s.Find(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].StudentID)
	assert.Equal(t, int64(3), got[1].StudentID)
	assert.Equal(t, int64(1), got[2].StudentID)
}

func TestFindFilters(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := mustCreate(t, s, "ID", 1, day)
	mustCreate(t, s, "OJT", 2, day.Add(time.Minute))

	done := StatusCompleted
	_, err := s.Update(context.Background(), a.ID, Patch{Status: &done})
	require.NoError(t, err)

	cat := "ID"
	got, err := s.Find(context.Background(), Filter{Category: &cat})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	waiting := StatusWaiting
	got, err = s.Find(context.Background(), Filter{Status: &waiting})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OJT", got[0].Category)
}

func TestFindRelevant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	unassigned := mustCreate(t, s, "ID", 1, day)
	mine := mustCreate(t, s, "ID", 2, day.Add(time.Minute))
	theirs := mustCreate(t, s, "ID", 3, day.Add(2*time.Minute))

	me, them := int64(10), int64(20)
	prog := StatusInProgress
	_, err := s.Update(ctx, mine.ID, Patch{Status: &prog, FacultyID: &me})
	require.NoError(t, err)
	_, err = s.Update(ctx, theirs.ID, Patch{Status: &prog, FacultyID: &them})
	require.NoError(t, err)

	// No status filter: waiting plus my own plus unassigned.
	got, err := s.FindRelevant(ctx, Filter{}, me)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, unassigned.ID, got[0].ID)
	assert.Equal(t, mine.ID, got[1].ID)

	// Status filter: mine or unassigned only.
	got, err = s.FindRelevant(ctx, Filter{Status: &prog}, me)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
}

func TestCountAheadTieBreaksOnTicketNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Same check-in instant, so rank falls back to ticket number.
	a := mustCreate(t, s, "ID", 1, at)
	b := mustCreate(t, s, "ID", 2, at)

	ahead, err := s.CountAhead(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, ahead)

	ahead, err = s.CountAhead(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, ahead)
}

func TestUpdateWhereStatusIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tk := mustCreate(t, s, "ID", 1, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	prog := StatusInProgress
	applied, err := s.UpdateWhereStatus(ctx, tk.ID, StatusWaiting, Patch{Status: &prog})
	require.NoError(t, err)
	assert.True(t, applied)

	// The precondition no longer holds.
	applied, err = s.UpdateWhereStatus(ctx, tk.ID, StatusWaiting, Patch{Status: &prog})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpdateAndDeleteNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	notes := "x"
	_, err := s.Update(ctx, 42, Patch{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, 42), ErrNotFound)
}

func TestStatsOrdersBusiestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mustCreate(t, s, "OJT", 1, day)
	mustCreate(t, s, "OJT", 2, day.Add(time.Minute))
	done := mustCreate(t, s, "ID", 3, day.Add(2*time.Minute))

	completed := StatusCompleted
	_, err := s.Update(ctx, done.ID, Patch{Status: &completed})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, day)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "OJT", stats[0].Category)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 2, stats[0].Waiting)

	assert.Equal(t, "ID", stats[1].Category)
	assert.Equal(t, 1, stats[1].Total)
	assert.Equal(t, 1, stats[1].Completed)
}

func TestTimeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 3, 2, 9, 30, 45, 123456789, time.UTC)
	tk := mustCreate(t, s, "ID", 1, at)

	got, err := s.FindByID(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.True(t, got.CheckInTime.Equal(at))
}
