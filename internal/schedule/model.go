package schedule

import (
	"errors"
	"time"
)

// Block is one entry on a faculty calendar. Public blocks of a bookable
// type accept student bookings up to MaxStudents (0 = unlimited).
type Block struct {
	ID          int64     `json:"id"`
	FacultyID   int64     `json:"faculty_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Location    string    `json:"location,omitempty"`
	IsPublic    bool      `json:"is_public"`
	MaxStudents int       `json:"max_students"`
	BookedIDs   []int64   `json:"booked_student_ids,omitempty"`
}

const (
	TypeAvailable    = "available"
	TypeBusy         = "busy"
	TypeConsultation = "consultation"
	TypeClass        = "class"
	TypeMeeting      = "meeting"
	TypeOfficeHours  = "office-hours"
	TypeBreak        = "break"
)

func ValidType(t string) bool {
	switch t {
	case TypeAvailable, TypeBusy, TypeConsultation, TypeClass, TypeMeeting, TypeOfficeHours, TypeBreak:
		return true
	default:
		return false
	}
}

// Bookable reports whether students may book a block of this type.
func Bookable(t string) bool {
	return t == TypeAvailable || t == TypeConsultation || t == TypeOfficeHours
}

// AvailabilitySlot is a recurring weekly office-hours window.
type AvailabilitySlot struct {
	ID          int64  `json:"id"`
	FacultyID   int64  `json:"faculty_id"`
	DayOfWeek   string `json:"day_of_week"`
	StartTime   string `json:"start_time"` // "HH:MM", 24-hour
	EndTime     string `json:"end_time"`
	Location    string `json:"location"`
	IsAvailable bool   `json:"is_available"`
}

func ValidDay(d string) bool {
	switch d {
	case "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday":
		return true
	default:
		return false
	}
}

// Availability statuses a faculty member toggles on themselves. Purely
// informational: being offline does not block ticket assignment.
const (
	StatusAvailable = "available"
	StatusBusy      = "busy"
	StatusOffline   = "offline"
)

func ValidAvailability(s string) bool {
	return s == StatusAvailable || s == StatusBusy || s == StatusOffline
}

var (
	ErrNotFound      = errors.New("schedule not found")
	ErrOverlap       = errors.New("schedule overlaps an existing block")
	ErrBlockFull     = errors.New("schedule is fully booked")
	ErrAlreadyBooked = errors.New("already booked on this schedule")
	ErrNotBookable   = errors.New("this schedule cannot be booked")
)
