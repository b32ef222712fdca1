package queue

import "time"

// Status is the closed ticket lifecycle. Transitions between statuses go
// through the table in engine.go, never by writing the field directly.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
	StatusDeclined    Status = "declined"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled, StatusDeclined:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRescheduled, StatusDeclined:
		return true
	default:
		return false
	}
}

// Active reports whether s counts toward queue positions.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusInProgress
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

func ValidPriority(p Priority) bool {
	return p == PriorityNormal || p == PriorityUrgent
}

// DefaultCategories is the stock concern list. Deployments override it
// through the queue settings file.
var DefaultCategories = []string{"ID", "OJT", "Capstone", "Staff/Admin", "Enrollment", "Other"}

type Ticket struct {
	ID           int64    `json:"id"`
	TicketNumber int      `json:"ticket_number"`
	Category     string   `json:"category"`
	Purpose      string   `json:"purpose"`
	Priority     Priority `json:"priority"`
	Status       Status   `json:"status"`

	// Snapshots taken at check-in. Not live: recompute through the
	// Calculator for a current position.
	PositionInCategory   int `json:"position_in_category"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`

	CheckInTime   time.Time  `json:"check_in_time"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	CompletedTime *time.Time `json:"completed_time,omitempty"`

	Notes     string `json:"notes,omitempty"`
	StudentID int64  `json:"student_id"`
	FacultyID *int64 `json:"faculty_id,omitempty"`
	QRCode    string `json:"qr_code,omitempty"`
}

// Filter narrows listings. Nil fields match everything.
type Filter struct {
	Status   *Status
	Category *string
}

type CategoryStats struct {
	Category   string `json:"category"`
	Total      int    `json:"total"`
	Waiting    int    `json:"waiting"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Cancelled  int    `json:"cancelled"`
}

// Event is what the engine hands to the notification boundary after a
// transition has committed. Assignee mirrors the ticket's faculty
// reference at the time of the transition.
type Event struct {
	Ticket   Ticket `json:"ticket"`
	From     Status `json:"from_status"`
	To       Status `json:"to_status"`
	Assignee *int64 `json:"assignee,omitempty"`
}
