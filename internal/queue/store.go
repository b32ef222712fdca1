package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the durable ticket collection. Times are stored as RFC3339Nano
// text; check_in_day holds the calendar day in the deployment timezone so
// daily scoping never re-derives day boundaries in SQL.
type Store struct {
	db  *sql.DB
	loc *time.Location

	// avgServiceMinutes feeds the wait-estimate snapshot taken at
	// check-in.
	avgServiceMinutes int

	// allocMu serializes ticket-number allocation. Two concurrent
	// check-ins must never read the same max and insert the same
	// number.
	allocMu sync.Mutex
}

func NewStore(db *sql.DB, loc *time.Location, avgServiceMinutes int) *Store {
	if loc == nil {
		loc = time.Local
	}
	if avgServiceMinutes <= 0 {
		avgServiceMinutes = 15
	}
	return &Store{db: db, loc: loc, avgServiceMinutes: avgServiceMinutes}
}

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS tickets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ticket_number INTEGER NOT NULL,
  check_in_day TEXT NOT NULL,
  category TEXT NOT NULL,
  purpose TEXT NOT NULL,
  priority TEXT NOT NULL,
  status TEXT NOT NULL,
  position_in_category INTEGER NOT NULL,
  estimated_wait_minutes INTEGER NOT NULL,
  check_in_time TEXT NOT NULL,
  start_time TEXT NULL,
  completed_time TEXT NULL,
  notes TEXT NOT NULL DEFAULT '',
  student_id INTEGER NOT NULL,
  faculty_id INTEGER NULL,
  qr_code TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_day_number ON tickets(check_in_day, ticket_number);
CREATE INDEX IF NOT EXISTS idx_tickets_category_status ON tickets(category, status);
CREATE INDEX IF NOT EXISTS idx_tickets_check_in_time ON tickets(check_in_time);
CREATE INDEX IF NOT EXISTS idx_tickets_faculty ON tickets(faculty_id);
`)
	return err
}

// dayKey is the daily-numbering bucket for a timestamp.
func (s *Store) dayKey(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// Create allocates the next ticket number for the ticket's check-in day,
// snapshots the category position and wait estimate, and inserts, all as
// one serialized step. Fills TicketNumber, PositionInCategory,
// EstimatedWaitMinutes and ID on the given ticket.
func (s *Store) Create(ctx context.Context, t *Ticket) error {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	number, err := s.AllocateTicketNumber(ctx, t.CheckInTime)
	if err != nil {
		return err
	}
	active, err := s.CountActive(ctx, t.Category, t.CheckInTime)
	if err != nil {
		return err
	}

	t.TicketNumber = number
	t.PositionInCategory = active + 1
	t.EstimatedWaitMinutes = active * s.avgServiceMinutes
	return s.Insert(ctx, t)
}

// AllocateTicketNumber returns max(ticket_number for the day)+1, or 1
// when the day has no tickets yet. Callers other than Create must hold
// allocMu themselves; on its own this is only a consistent read.
func (s *Store) AllocateTicketNumber(ctx context.Context, day time.Time) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ticket_number), 0) FROM tickets WHERE check_in_day=?`,
		s.dayKey(day),
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// CountActive counts waiting and in-progress tickets in a category for
// the day.
func (s *Store) CountActive(ctx context.Context, category string, day time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets
		 WHERE category=? AND status IN (?, ?) AND check_in_day=?`,
		category, StatusWaiting, StatusInProgress, s.dayKey(day),
	).Scan(&n)
	return n, err
}

func (s *Store) Insert(ctx context.Context, t *Ticket) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets(ticket_number, check_in_day, category, purpose, priority, status,
		   position_in_category, estimated_wait_minutes, check_in_time, start_time, completed_time,
		   notes, student_id, faculty_id, qr_code)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TicketNumber, s.dayKey(t.CheckInTime), t.Category, t.Purpose, t.Priority, t.Status,
		t.PositionInCategory, t.EstimatedWaitMinutes, formatTime(t.CheckInTime),
		formatTimePtr(t.StartTime), formatTimePtr(t.CompletedTime),
		t.Notes, t.StudentID, t.FacultyID, t.QRCode,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tickets.check_in_day") {
			return fmt.Errorf("%w: number %d on %s", ErrDuplicateTicketNumber, t.TicketNumber, s.dayKey(t.CheckInTime))
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (Ticket, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` FROM tickets WHERE id=?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return t, err
}

// Find returns tickets matching the filter, oldest check-in first.
func (s *Store) Find(ctx context.Context, f Filter) ([]Ticket, error) {
	where, args := filterClauses(f)
	q := selectCols + ` FROM tickets`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY check_in_time ASC, ticket_number ASC`
	return s.list(ctx, q, args...)
}

// FindRelevant is the faculty read model: tickets assigned to the given
// faculty or not assigned at all; with no status filter, all waiting
// tickets are included regardless of assignee so unclaimed work stays
// visible.
func (s *Store) FindRelevant(ctx context.Context, f Filter, facultyID int64) ([]Ticket, error) {
	where := []string{}
	args := []any{}
	if f.Category != nil {
		where = append(where, `category=?`)
		args = append(args, *f.Category)
	}
	if f.Status != nil {
		where = append(where, `status=?`, `(faculty_id=? OR faculty_id IS NULL)`)
		args = append(args, *f.Status, facultyID)
	} else {
		where = append(where, `(status=? OR faculty_id=? OR faculty_id IS NULL)`)
		args = append(args, StatusWaiting, facultyID)
	}
	q := selectCols + ` FROM tickets WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY check_in_time ASC, ticket_number ASC`
	return s.list(ctx, q, args...)
}

// CountAhead counts active same-category tickets ranked before the given
// ticket today. Rank is check-in time, ties broken by ticket number.
func (s *Store) CountAhead(ctx context.Context, t Ticket) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets
		 WHERE category=? AND status IN (?, ?) AND check_in_day=? AND id != ?
		   AND (check_in_time < ? OR (check_in_time = ? AND ticket_number < ?))`,
		t.Category, StatusWaiting, StatusInProgress, s.dayKey(t.CheckInTime), t.ID,
		formatTime(t.CheckInTime), formatTime(t.CheckInTime), t.TicketNumber,
	).Scan(&n)
	return n, err
}

// Patch is a partial ticket update. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	FacultyID     *int64
	StartTime     *time.Time
	CompletedTime *time.Time
	Notes         *string
	QRCode        *string
}

func (p Patch) setClauses() ([]string, []any) {
	var set []string
	var args []any
	if p.Status != nil {
		set = append(set, `status=?`)
		args = append(args, *p.Status)
	}
	if p.FacultyID != nil {
		set = append(set, `faculty_id=?`)
		args = append(args, *p.FacultyID)
	}
	if p.StartTime != nil {
		set = append(set, `start_time=?`)
		args = append(args, formatTime(*p.StartTime))
	}
	if p.CompletedTime != nil {
		set = append(set, `completed_time=?`)
		args = append(args, formatTime(*p.CompletedTime))
	}
	if p.Notes != nil {
		set = append(set, `notes=?`)
		args = append(args, *p.Notes)
	}
	if p.QRCode != nil {
		set = append(set, `qr_code=?`)
		args = append(args, *p.QRCode)
	}
	return set, args
}

// Update applies the patch as a single row write.
func (s *Store) Update(ctx context.Context, id int64, p Patch) (Ticket, error) {
	set, args := p.setClauses()
	if len(set) == 0 {
		return s.FindByID(ctx, id)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET `+strings.Join(set, ", ")+` WHERE id=?`, args...)
	if err != nil {
		return Ticket{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Ticket{}, err
	}
	if n == 0 {
		return Ticket{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return s.FindByID(ctx, id)
}

// UpdateWhereStatus applies the patch only if the row still holds the
// expected status. A false return means another transition got there
// first (or the ticket vanished); the caller decides what that means.
func (s *Store) UpdateWhereStatus(ctx context.Context, id int64, expect Status, p Patch) (bool, error) {
	set, args := p.setClauses()
	if len(set) == 0 {
		return false, errors.New("empty patch")
	}
	args = append(args, id, expect)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET `+strings.Join(set, ", ")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete is the administrative hard delete. Not part of the normal
// lifecycle.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id=?`, id)
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
	return nil
}

// Stats aggregates today's tickets per category, busiest category first.
func (s *Store) Stats(ctx context.Context, day time.Time) ([]CategoryStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category,
		   COUNT(*) AS total,
		   SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		   SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		   SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		   SUM(CASE WHEN status=? THEN 1 ELSE 0 END)
		 FROM tickets WHERE check_in_day=?
		 GROUP BY category
		 ORDER BY total DESC, category ASC`,
		StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled, s.dayKey(day),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CategoryStats
	for rows.Next() {
		var cs CategoryStats
		if err := rows.Scan(&cs.Category, &cs.Total, &cs.Waiting, &cs.InProgress, &cs.Completed, &cs.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

const selectCols = `SELECT id, ticket_number, category, purpose, priority, status,
  position_in_category, estimated_wait_minutes, check_in_time, start_time, completed_time,
  notes, student_id, faculty_id, qr_code`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (Ticket, error) {
	var t Ticket
	var checkIn string
	var start, completed sql.NullString
	var faculty sql.NullInt64
	err := r.Scan(&t.ID, &t.TicketNumber, &t.Category, &t.Purpose, &t.Priority, &t.Status,
		&t.PositionInCategory, &t.EstimatedWaitMinutes, &checkIn, &start, &completed,
		&t.Notes, &t.StudentID, &faculty, &t.QRCode)
	if err != nil {
		return Ticket{}, err
	}
	t.CheckInTime = parseTime(checkIn)
	if start.Valid {
		ts := parseTime(start.String)
		t.StartTime = &ts
	}
	if completed.Valid {
		ts := parseTime(completed.String)
		t.CompletedTime = &ts
	}
	if faculty.Valid {
		v := faculty.Int64
		t.FacultyID = &v
	}
	return t, nil
}

func (s *Store) list(ctx context.Context, q string, args ...any) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func filterClauses(f Filter) ([]string, []any) {
	var where []string
	var args []any
	if f.Status != nil {
		where = append(where, `status=?`)
		args = append(args, *f.Status)
	}
	if f.Category != nil {
		where = append(where, `category=?`)
		args = append(args, *f.Category)
	}
	return where, args
}

// timeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing zeros, which would break the lexicographic comparisons the
// queries use on check_in_time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
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
