// Package cache is the Redis read layer over the availability store: keyed
// week and range entries, a verify-then-accept warming loop after writes, and
// a read-through path for lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// Store abstracts the cache backend so the warming and read-through logic is
// testable without Redis.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelMatching(ctx context.Context, pattern string) error
}

// RedisStore is the production Store.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// DelMatching removes every key matching the glob pattern. Range keys embed
// arbitrary from/to bounds, so invalidation has to sweep them by pattern.
func (s *RedisStore) DelMatching(ctx context.Context, pattern string) error {
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.Del(ctx, keys...)
}

func weekKey(instructorID string, weekStart time.Time) string {
	return fmt.Sprintf("avail:%s:week:%s", instructorID, model.DateKey(weekStart))
}

func rangeKey(instructorID string, from, to time.Time) string {
	return fmt.Sprintf("avail:%s:range:%s:%s", instructorID, model.DateKey(from), model.DateKey(to))
}

func rangePattern(instructorID string) string {
	return fmt.Sprintf("avail:%s:range:*", instructorID)
}

const (
	// hotTTL covers the weeks instructors and students actually look at.
	hotTTL = 10 * time.Minute
	// coldTTL backs far-future and historical weeks, refreshed on demand.
	coldTTL = 6 * time.Hour
	// rangeTTL keeps range listings short-lived; they cut across weeks and
	// are the hardest entries to invalidate precisely.
	rangeTTL = 5 * time.Minute
)

// weekTTL picks the retention tier: the current and next week churn with
// bookings and edits, everything else moves slowly. Week starts are UTC
// midnights, so now is floored in UTC too.
func weekTTL(weekStart time.Time, now time.Time) time.Duration {
	thisWeek := model.MondayOf(now.UTC())
	if !weekStart.Before(thisWeek) && weekStart.Before(thisWeek.AddDate(0, 0, 14)) {
		return hotTTL
	}
	return coldTTL
}

// Entries serialize as date -> [{"start_time","end_time"}], the wire shape
// Window itself marshals to.

func encodeSchedule(schedule model.WeekSchedule) (string, error) {
	raw, err := json.Marshal(schedule)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeSchedule(raw string) (model.WeekSchedule, error) {
	var schedule model.WeekSchedule
	if err := json.Unmarshal([]byte(raw), &schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}
