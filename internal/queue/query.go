package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/larksolutions/queueing/internal/identity"
)

// Query is the role-aware read side of the queue.
type Query struct {
	store *Store
}

func NewQuery(store *Store) *Query {
	return &Query{store: store}
}

// List returns tickets the actor should see, oldest check-in first.
//
// Faculty get a relevance-trimmed view: a waiting-status filter shows
// every waiting ticket (unclaimed work is everyone's work); any other
// view is limited to tickets assigned to them or not assigned at all.
// Students and admins see whatever the filter allows.
func (q *Query) List(ctx context.Context, f Filter, actor identity.User) ([]Ticket, error) {
	switch actor.Role {
	case identity.RoleFaculty:
		if f.Status != nil && *f.Status == StatusWaiting {
			return q.store.Find(ctx, f)
		}
		return q.store.FindRelevant(ctx, f, actor.ID)
	case identity.RoleStudent, identity.RoleAdmin:
		return q.store.Find(ctx, f)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
}

// Stats aggregates today's tickets per category.
func (q *Query) Stats(ctx context.Context, day time.Time) ([]CategoryStats, error) {
	return q.store.Stats(ctx, day)
}
