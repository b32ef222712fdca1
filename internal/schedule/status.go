package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusStore keeps the live faculty availability snapshot in Redis.
// The snapshot is informational display state, mutated only by the
// owning faculty member; a faculty with no key is treated as offline.
type StatusStore struct {
	rdb *redis.Client
}

func NewStatusStore(rdb *redis.Client) *StatusStore {
	return &StatusStore{rdb: rdb}
}

func statusKey(facultyID int64) string {
	return fmt.Sprintf("availability:faculty:%d", facultyID)
}

func (s *StatusStore) Set(ctx context.Context, facultyID int64, status string) error {
	if !ValidAvailability(status) {
		return fmt.Errorf("invalid availability status %q", status)
	}
	return s.rdb.Set(ctx, statusKey(facultyID), status, 0).Err()
}

func (s *StatusStore) Get(ctx context.Context, facultyID int64) (string, error) {
	v, err := s.rdb.Get(ctx, statusKey(facultyID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusOffline, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// GetMany resolves statuses for a set of faculty in one round trip.
func (s *StatusStore) GetMany(ctx context.Context, facultyIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(facultyIDs))
	if len(facultyIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(facultyIDs))
	for i, id := range facultyIDs {
		keys[i] = statusKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		status, ok := v.(string)
		if !ok || !ValidAvailability(status) {
			status = StatusOffline
		}
		out[facultyIDs[i]] = status
	}
	return out, nil
}
