package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS availability_slots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  faculty_id INTEGER NOT NULL,
  day_of_week TEXT NOT NULL,
  start_time TEXT NOT NULL,
  end_time TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  is_available INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_slots_faculty_day ON availability_slots(faculty_id, day_of_week);

CREATE TABLE IF NOT EXISTS schedule_blocks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  faculty_id INTEGER NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  start_time TEXT NOT NULL,
  end_time TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  is_public INTEGER NOT NULL DEFAULT 1,
  max_students INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_blocks_faculty_start ON schedule_blocks(faculty_id, start_time);
CREATE INDEX IF NOT EXISTS idx_blocks_window ON schedule_blocks(start_time, end_time);

CREATE TABLE IF NOT EXISTS block_bookings (
  block_id INTEGER NOT NULL,
  student_id INTEGER NOT NULL,
  booked_at TEXT NOT NULL,
  UNIQUE(block_id, student_id)
);
CREATE INDEX IF NOT EXISTS idx_bookings_student ON block_bookings(student_id);
`)
	return err
}

// ---- availability slots ----

func (s *Store) CreateSlot(ctx context.Context, slot *AvailabilitySlot) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO availability_slots(faculty_id, day_of_week, start_time, end_time, location, is_available)
		 VALUES(?,?,?,?,?,?)`,
		slot.FacultyID, slot.DayOfWeek, slot.StartTime, slot.EndTime, slot.Location, boolInt(slot.IsAvailable),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	slot.ID = id
	return nil
}

func (s *Store) SlotsForFaculty(ctx context.Context, facultyID int64) ([]AvailabilitySlot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, faculty_id, day_of_week, start_time, end_time, location, is_available
		 FROM availability_slots WHERE faculty_id=?
		 ORDER BY day_of_week, start_time`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilitySlot
	for rows.Next() {
		var sl AvailabilitySlot
		var avail int
		if err := rows.Scan(&sl.ID, &sl.FacultyID, &sl.DayOfWeek, &sl.StartTime, &sl.EndTime, &sl.Location, &avail); err != nil {
			return nil, err
		}
		sl.IsAvailable = avail != 0
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSlot(ctx context.Context, id, facultyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM availability_slots WHERE id=? AND faculty_id=?`, id, facultyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: slot %d", ErrNotFound, id)
	}
	return nil
}

// ---- schedule blocks ----

// Overlaps reports whether the faculty already has a block crossing the
// given window. excludeID skips the block being updated.
func (s *Store) Overlaps(ctx context.Context, facultyID int64, start, end time.Time, excludeID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule_blocks
		 WHERE faculty_id=? AND id != ?
		   AND start_time < ? AND end_time > ?`,
		facultyID, excludeID, formatTime(end), formatTime(start),
	).Scan(&n)
	return n > 0, err
}

func (s *Store) CreateBlock(ctx context.Context, b *Block) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_blocks(faculty_id, title, description, type, start_time, end_time, location, is_public, max_students)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		b.FacultyID, b.Title, b.Description, b.Type,
		formatTime(b.StartTime), formatTime(b.EndTime),
		b.Location, boolInt(b.IsPublic), b.MaxStudents,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (s *Store) GetBlock(ctx context.Context, id int64) (Block, error) {
	row := s.db.QueryRowContext(ctx, blockCols+` FROM schedule_blocks WHERE id=?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Block{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return Block{}, err
	}
	b.BookedIDs, err = s.bookings(ctx, b.ID)
	return b, err
}

func (s *Store) UpdateBlock(ctx context.Context, b Block) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedule_blocks SET title=?, description=?, type=?, start_time=?, end_time=?, location=?, is_public=?, max_students=?
		 WHERE id=? AND faculty_id=?`,
		b.Title, b.Description, b.Type, formatTime(b.StartTime), formatTime(b.EndTime),
		b.Location, boolInt(b.IsPublic), b.MaxStudents, b.ID, b.FacultyID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, b.ID)
	}
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, id, facultyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedule_blocks WHERE id=? AND faculty_id=?`, id, facultyID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM block_bookings WHERE block_id=?`, id)
	return err
}

// ListForFaculty returns one faculty's blocks inside an optional window.
func (s *Store) ListForFaculty(ctx context.Context, facultyID int64, from, to *time.Time) ([]Block, error) {
	where := []string{`faculty_id=?`}
	args := []any{facultyID}
	if from != nil {
		where = append(where, `start_time >= ?`)
		args = append(args, formatTime(*from))
	}
	if to != nil {
		where = append(where, `start_time <= ?`)
		args = append(args, formatTime(*to))
	}
	q := blockCols + ` FROM schedule_blocks WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_time ASC`
	return s.listBlocks(ctx, q, args...)
}

// ListPublic returns every public block inside an optional window.
func (s *Store) ListPublic(ctx context.Context, from, to *time.Time) ([]Block, error) {
	where := []string{`is_public=1`}
	args := []any{}
	if from != nil {
		where = append(where, `start_time >= ?`)
		args = append(args, formatTime(*from))
	}
	if to != nil {
		where = append(where, `start_time <= ?`)
		args = append(args, formatTime(*to))
	}
	q := blockCols + ` FROM schedule_blocks WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_time ASC`
	return s.listBlocks(ctx, q, args...)
}

// ---- bookings ----

// Book adds a student to a block. Capacity is checked and the booking
// written in one transaction so two students cannot take the last seat.
func (s *Store) Book(ctx context.Context, blockID, studentID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxStudents int
	err = tx.QueryRowContext(ctx,
		`SELECT max_students FROM schedule_blocks WHERE id=?`, blockID).Scan(&maxStudents)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", ErrNotFound, blockID)
	}
	if err != nil {
		return err
	}

	if maxStudents > 0 {
		var booked int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM block_bookings WHERE block_id=?`, blockID).Scan(&booked); err != nil {
			return err
		}
		if booked >= maxStudents {
			return ErrBlockFull
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO block_bookings(block_id, student_id, booked_at) VALUES(?,?,?)`,
		blockID, studentID, formatTime(time.Now()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyBooked
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) CancelBooking(ctx context.Context, blockID, studentID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM block_bookings WHERE block_id=? AND student_id=?`, blockID, studentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: no booking on block %d", ErrNotFound, blockID)
	}
	return nil
}

// BookedByStudent lists the blocks a student has booked, soonest first.
func (s *Store) BookedByStudent(ctx context.Context, studentID int64) ([]Block, error) {
	q := blockCols + ` FROM schedule_blocks
		 WHERE id IN (SELECT block_id FROM block_bookings WHERE student_id=?)
		 ORDER BY start_time ASC`
	return s.listBlocks(ctx, q, studentID)
}

const blockCols = `SELECT id, faculty_id, title, description, type, start_time, end_time, location, is_public, max_students`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(r rowScanner) (Block, error) {
	var b Block
	var start, end string
	var public int
	err := r.Scan(&b.ID, &b.FacultyID, &b.Title, &b.Description, &b.Type,
		&start, &end, &b.Location, &public, &b.MaxStudents)
	if err != nil {
		return Block{}, err
	}
	b.StartTime = parseTime(start)
	b.EndTime = parseTime(end)
	b.IsPublic = public != 0
	return b, nil
}

func (s *Store) listBlocks(ctx context.Context, q string, args ...any) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		ids, err := s.bookings(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].BookedIDs = ids
	}
	return out, nil
}

func (s *Store) bookings(ctx context.Context, blockID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM block_bookings WHERE block_id=? ORDER BY booked_at`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
