package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// Reader is the read-through lookup path: serve from cache when possible,
// fall back to the source and repopulate on a miss. Cache failures degrade to
// source reads; only source failures surface to the caller.
type Reader struct {
	store  Store
	source Source
	logger *slog.Logger
	now    func() time.Time
}

func NewReader(store Store, source Source, logger *slog.Logger) *Reader {
	return &Reader{store: store, source: source, logger: logger, now: time.Now}
}

// GetWeekAvailability returns the week containing startDate. forceRefresh
// bypasses the cached entry and overwrites it with the fresh state.
func (r *Reader) GetWeekAvailability(ctx context.Context, instructorID string, startDate time.Time, forceRefresh bool) (model.WeekSchedule, error) {
	weekStart := model.MondayOf(startDate)
	key := weekKey(instructorID, weekStart)

	if !forceRefresh && r.store != nil {
		raw, found, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("cache read failed, falling through", "key", key, "err", err)
		} else if found {
			schedule, err := decodeSchedule(raw)
			if err == nil {
				return schedule, nil
			}
			r.logger.Warn("cache entry undecodable, dropping", "key", key, "err", err)
			_ = r.store.Del(ctx, key)
		}
	}

	schedule, err := r.source.FetchWeek(ctx, instructorID, weekStart)
	if err != nil {
		return nil, err
	}
	r.populate(ctx, key, schedule, weekTTL(weekStart, r.now()))
	return schedule, nil
}

// GetDateRange returns the windows between from (inclusive) and to
// (exclusive). Range entries are short-lived; see rangeTTL.
func (r *Reader) GetDateRange(ctx context.Context, instructorID string, from, to time.Time) (model.WeekSchedule, error) {
	key := rangeKey(instructorID, from, to)

	if r.store != nil {
		raw, found, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.Warn("cache read failed, falling through", "key", key, "err", err)
		} else if found {
			schedule, err := decodeSchedule(raw)
			if err == nil {
				return schedule, nil
			}
			r.logger.Warn("cache entry undecodable, dropping", "key", key, "err", err)
			_ = r.store.Del(ctx, key)
		}
	}

	schedule, err := r.source.FetchRange(ctx, instructorID, from, to)
	if err != nil {
		return nil, err
	}
	r.populate(ctx, key, schedule, rangeTTL)
	return schedule, nil
}

func (r *Reader) populate(ctx context.Context, key string, schedule model.WeekSchedule, ttl time.Duration) {
	if r.store == nil {
		return
	}
	raw, err := encodeSchedule(schedule)
	if err != nil {
		r.logger.Warn("cache encode failed", "key", key, "err", err)
		return
	}
	if err := r.store.Set(ctx, key, raw, ttl); err != nil {
		r.logger.Warn("cache write failed", "key", key, "err", err)
	}
}
