package queue

import "context"

// Calculator derives a ticket's current rank within its category and the
// wait estimate for that rank. Both are pure reads over store state;
// callers recompute on every poll because the engine keeps no live
// index.
type Calculator struct {
	store *Store
}

func NewCalculator(store *Store) *Calculator {
	return &Calculator{store: store}
}

// CurrentPosition is 1 + the number of active same-category tickets
// checked in earlier today (ties broken by ticket number).
func (c *Calculator) CurrentPosition(ctx context.Context, t Ticket) (int, error) {
	ahead, err := c.store.CountAhead(ctx, t)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// EstimatedWaitMinutes assumes a fixed per-person service time. The
// person at position 1 waits zero minutes.
func (c *Calculator) EstimatedWaitMinutes(position int) int {
	if position <= 1 {
		return 0
	}
	return (position - 1) * c.store.avgServiceMinutes
}
