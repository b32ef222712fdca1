package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reload(t *testing.T, s *Store, id int64) Ticket {
	t.Helper()
	got, err := s.FindByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestCurrentPositionCountsOnlyActiveSameCategory(t *testing.T) {
	s := newTestStore(t)
	calc := NewCalculator(s)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first := mustCreate(t, s, "ID", 1, day)
	mustCreate(t, s, "OJT", 2, day.Add(time.Minute))
	last := mustCreate(t, s, "ID", 3, day.Add(2*time.Minute))

	pos, err := calc.CurrentPosition(ctx, reload(t, s, last.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	done := StatusCompleted
	_, err = s.Update(ctx, first.ID, Patch{Status: &done})
	require.NoError(t, err)

	pos, err = calc.CurrentPosition(ctx, reload(t, s, last.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestEstimatedWaitScalesWithPosition(t *testing.T) {
	s := newTestStore(t)
	calc := NewCalculator(s)

	assert.Equal(t, 0, calc.EstimatedWaitMinutes(0))
	assert.Equal(t, 0, calc.EstimatedWaitMinutes(1))
	assert.Equal(t, 15, calc.EstimatedWaitMinutes(2))
	assert.Equal(t, 60, calc.EstimatedWaitMinutes(5))
}
