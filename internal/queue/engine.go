package queue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/larksolutions/queueing/internal/identity"
)

// EventSink receives committed ticket events. Implementations must not
// block: the engine treats delivery as fire-and-forget, and a slow or
// failing sink never rolls back or delays a committed mutation.
type EventSink interface {
	TicketCreated(Ticket)
	TicketTransitioned(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) TicketCreated(Ticket)     {}
func (NopSink) TicketTransitioned(Event) {}

// transitions is the state machine as data: source status -> reachable
// target -> role allowed to drive it. Terminal statuses have no entry,
// so nothing leaves them. Admins are rejected before this table is
// consulted.
var transitions = map[Status]map[Status]identity.Role{
	StatusWaiting: {
		StatusInProgress: identity.RoleFaculty,
		StatusCancelled:  identity.RoleStudent,
	},
	StatusInProgress: {
		StatusCompleted:   identity.RoleFaculty,
		StatusRescheduled: identity.RoleFaculty,
		StatusDeclined:    identity.RoleFaculty,
	},
}

// Engine owns every ticket mutation: check-in, status transitions, late
// notes and the administrative delete.
type Engine struct {
	logger     *log.Logger
	store      *Store
	calc       *Calculator
	sink       EventSink
	categories map[string]struct{}
	now        func() time.Time
}

func NewEngine(logger *log.Logger, store *Store, calc *Calculator, sink EventSink, categories []string) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return &Engine{
		logger:     logger,
		store:      store,
		calc:       calc,
		sink:       sink,
		categories: set,
		now:        time.Now,
	}
}

type CheckInRequest struct {
	Category string   `json:"category"`
	Purpose  string   `json:"purpose"`
	Priority Priority `json:"priority"`
}

// CheckIn creates a waiting ticket for the requesting student. The store
// serializes number allocation; the position and wait snapshots are
// taken in the same step.
func (e *Engine) CheckIn(ctx context.Context, actor identity.User, req CheckInRequest) (Ticket, error) {
	switch actor.Role {
	case identity.RoleStudent:
	case identity.RoleFaculty, identity.RoleAdmin:
		return Ticket{}, fmt.Errorf("%w: only students check in to the queue", ErrForbidden)
	default:
		return Ticket{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	if _, ok := e.categories[req.Category]; !ok {
		return Ticket{}, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return Ticket{}, fmt.Errorf("%w: purpose is required", ErrInvalidInput)
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !ValidPriority(priority) {
		return Ticket{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, priority)
	}

	t := Ticket{
		Category:    req.Category,
		Purpose:     strings.TrimSpace(req.Purpose),
		Priority:    priority,
		Status:      StatusWaiting,
		CheckInTime: e.now(),
		StudentID:   actor.ID,
	}
	if err := e.store.Create(ctx, &t); err != nil {
		return Ticket{}, err
	}

	// QR payload needs the allocated number, so it is written after the
	// insert. A render failure leaves the ticket without a code rather
	// than failing the check-in.
	if qr, err := TicketQR(t); err != nil {
		e.logger.Printf("qr render failed ticket=%d: %v", t.ID, err)
	} else {
		updated, err := e.store.Update(ctx, t.ID, Patch{QRCode: &qr})
		if err != nil {
			e.logger.Printf("qr store failed ticket=%d: %v", t.ID, err)
		} else {
			t = updated
		}
	}

	e.sink.TicketCreated(t)
	return t, nil
}

// Transition drives the state machine. The write is conditional on the
// status the precondition check saw, so of two racing transitions only
// the first commits; the loser gets ErrInvalidTransition.
func (e *Engine) Transition(ctx context.Context, actor identity.User, ticketID int64, target Status, assigneeID *int64, notes string) (Ticket, error) {
	if !ValidStatus(target) {
		return Ticket{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	t, err := e.store.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}

	// Authority before reachability. Admins are read-only for any
	// ticket in any state, so their answer is Forbidden no matter what
	// the table would have said. The switch is exhaustive over the
	// closed role set; adding a role will not compile into silent
	// access here.
	switch actor.Role {
	case identity.RoleAdmin:
		// Read-only oversight by policy, not by UI omission.
		return Ticket{}, fmt.Errorf("%w: admin accounts cannot change ticket status", ErrForbidden)
	case identity.RoleStudent, identity.RoleFaculty:
	default:
		return Ticket{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	requiredRole, ok := transitions[t.Status][target]
	if !ok {
		if t.Status.Terminal() {
			return Ticket{}, fmt.Errorf("%w: ticket #%d is already %s and can no longer change", ErrInvalidTransition, t.TicketNumber, t.Status)
		}
		return Ticket{}, fmt.Errorf("%w: cannot move a %s ticket to %s", ErrInvalidTransition, t.Status, target)
	}

	switch actor.Role {
	case identity.RoleStudent:
		if requiredRole != identity.RoleStudent {
			return Ticket{}, fmt.Errorf("%w: only faculty can move a ticket to %s", ErrForbidden, target)
		}
		if t.StudentID != actor.ID {
			return Ticket{}, fmt.Errorf("%w: students can only cancel their own ticket", ErrForbidden)
		}
	case identity.RoleFaculty:
		if requiredRole != identity.RoleFaculty {
			return Ticket{}, fmt.Errorf("%w: only the requesting student can cancel a waiting ticket", ErrForbidden)
		}
	}

	now := e.now()
	patch := Patch{Status: &target}
	if assigneeID != nil {
		// Explicit assignment always wins, including reassignment.
		patch.FacultyID = assigneeID
	} else if target == StatusInProgress && t.FacultyID == nil && actor.Role == identity.RoleFaculty {
		// Auto-assignment: the faculty who starts an unclaimed ticket
		// owns it.
		id := actor.ID
		patch.FacultyID = &id
	}
	if target == StatusInProgress {
		patch.StartTime = &now
	}
	if target.Terminal() {
		patch.CompletedTime = &now
	}
	if notes != "" {
		patch.Notes = &notes
	}

	applied, err := e.store.UpdateWhereStatus(ctx, ticketID, t.Status, patch)
	if err != nil {
		return Ticket{}, err
	}
	if !applied {
		return Ticket{}, fmt.Errorf("%w: ticket #%d changed status concurrently", ErrInvalidTransition, t.TicketNumber)
	}

	updated, err := e.store.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, err
	}

	e.sink.TicketTransitioned(Event{
		Ticket:   updated,
		From:     t.Status,
		To:       target,
		Assignee: updated.FacultyID,
	})
	return updated, nil
}

// AppendNotes records late-arriving remarks. Unlike status, notes may
// still change after a ticket reaches a terminal state.
func (e *Engine) AppendNotes(ctx context.Context, actor identity.User, ticketID int64, notes string) (Ticket, error) {
	switch actor.Role {
	case identity.RoleFaculty:
	case identity.RoleStudent, identity.RoleAdmin:
		return Ticket{}, fmt.Errorf("%w: only faculty can add ticket notes", ErrForbidden)
	default:
		return Ticket{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return e.store.Update(ctx, ticketID, Patch{Notes: &notes})
}

// Delete is the administrative hard delete, outside the normal
// lifecycle. Only admins hold it; no event is emitted.
func (e *Engine) Delete(ctx context.Context, actor identity.User, ticketID int64) error {
	switch actor.Role {
	case identity.RoleAdmin:
	case identity.RoleStudent, identity.RoleFaculty:
		return fmt.Errorf("%w: deleting tickets is an administrative override", ErrForbidden)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	if err := e.store.Delete(ctx, ticketID); err != nil {
		return err
	}
	e.logger.Printf("ticket hard-deleted id=%d by=%d", ticketID, actor.ID)
	return nil
}

// PositionInfo is the live answer to "where am I now": the stored ticket
// plus a freshly computed rank and wait.
type PositionInfo struct {
	Ticket               Ticket `json:"ticket"`
	CurrentPosition      int    `json:"current_position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}

func (e *Engine) CurrentPosition(ctx context.Context, ticketID int64) (PositionInfo, error) {
	t, err := e.store.FindByID(ctx, ticketID)
	if err != nil {
		return PositionInfo{}, err
	}
	pos, err := e.calc.CurrentPosition(ctx, t)
	if err != nil {
		return PositionInfo{}, err
	}
	return PositionInfo{
		Ticket:               t,
		CurrentPosition:      pos,
		EstimatedWaitMinutes: e.calc.EstimatedWaitMinutes(pos),
	}, nil
}
