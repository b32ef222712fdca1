package queue

import "errors"

var (
	// ErrNotFound: the referenced ticket does not exist.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidTransition: the requested status is not reachable from
	// the ticket's current status. Also returned when a concurrent
	// transition won the race and changed the status first.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden: the acting identity's role lacks authority for the
	// operation. Distinct from ErrInvalidTransition: the fix is a
	// different actor, not a different ticket state.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateTicketNumber: a ticket number collided on insert.
	// Allocation is serialized, so this means the serialization broke;
	// it is a fatal invariant violation, never retried.
	ErrDuplicateTicketNumber = errors.New("duplicate ticket number")

	// ErrInvalidCategory: check-in with a category outside the
	// configured set.
	ErrInvalidCategory = errors.New("invalid concern category")

	// ErrInvalidInput: a check-in field other than category failed
	// validation (missing purpose, unknown priority).
	ErrInvalidInput = errors.New("invalid check-in input")
)
