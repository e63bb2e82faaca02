package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// Source loads authoritative schedules; implemented by the availability
// service.
type Source interface {
	FetchWeek(ctx context.Context, instructorID string, weekStart time.Time) (model.WeekSchedule, error)
	FetchRange(ctx context.Context, instructorID string, from, to time.Time) (model.WeekSchedule, error)
}

// Warmer repopulates the cache after a write. A warm cycle fetches the fresh
// week, verifies it against the expected change shape and retries a bounded
// number of times when the fetch looks stale; after the last attempt the last
// fetched state is accepted as-is. Warming never fails the write that
// triggered it.
type Warmer struct {
	store       Store
	source      Source
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewWarmer(store Store, source Source, logger *slog.Logger, maxAttempts int) *Warmer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Warmer{
		store:       store,
		source:      source,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// InvalidateAndWarm drops the entries covering dates, re-fetches each
// affected week and writes back the verified state. It returns the merged
// warmed schedule, or nil when nothing could be fetched; callers treat nil as
// "use your own view". Without a cache backend there is nothing to warm, so
// the whole cycle is a no-op.
func (w *Warmer) InvalidateAndWarm(ctx context.Context, instructorID string, dates []time.Time, expected *model.ExpectedChanges) model.WeekSchedule {
	if w.store == nil {
		return nil
	}
	weeks := weekStartsOf(dates)
	if err := w.invalidate(ctx, instructorID, weeks); err != nil {
		w.logger.Warn("cache invalidation before warm failed", "instructor_id", instructorID, "err", err)
	}

	merged := make(model.WeekSchedule)
	warmedAny := false
	for _, weekStart := range weeks {
		schedule := w.warmWeek(ctx, instructorID, weekStart, dates, expected)
		if schedule == nil {
			continue
		}
		warmedAny = true
		for date, wins := range schedule {
			merged[date] = wins
		}
	}
	if !warmedAny {
		return nil
	}
	return merged
}

// Invalidate drops cached entries without re-warming.
func (w *Warmer) Invalidate(ctx context.Context, instructorID string, dates []time.Time) error {
	return w.invalidate(ctx, instructorID, weekStartsOf(dates))
}

func (w *Warmer) invalidate(ctx context.Context, instructorID string, weeks []time.Time) error {
	if w.store == nil {
		return nil
	}
	keys := make([]string, 0, len(weeks))
	for _, weekStart := range weeks {
		keys = append(keys, weekKey(instructorID, weekStart))
	}
	if err := w.store.Del(ctx, keys...); err != nil {
		return err
	}
	return w.store.DelMatching(ctx, rangePattern(instructorID))
}

// warmWeek runs the fetch/verify/retry cycle for one week and returns the
// state it cached, nil when every fetch failed.
func (w *Warmer) warmWeek(ctx context.Context, instructorID string, weekStart time.Time, editedDates []time.Time, expected *model.ExpectedChanges) model.WeekSchedule {
	var last model.WeekSchedule
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		schedule, err := w.source.FetchWeek(ctx, instructorID, weekStart)
		if err != nil {
			w.logger.Warn("cache warm fetch failed",
				"instructor_id", instructorID, "week_start", model.DateKey(weekStart),
				"attempt", attempt, "err", err)
			continue
		}
		last = schedule
		if verifyExpected(schedule, weekStart, editedDates, expected) {
			w.cacheWeek(ctx, instructorID, weekStart, schedule)
			return schedule
		}
		w.logger.Warn("cache warm verification mismatch, retrying",
			"instructor_id", instructorID, "week_start", model.DateKey(weekStart), "attempt", attempt)
	}
	if last == nil {
		return nil
	}
	// Out of attempts: accept the last observed state rather than leave the
	// entry cold. A later read repairs it if it really was stale.
	w.logger.Warn("cache warm verification exhausted, accepting last state",
		"instructor_id", instructorID, "week_start", model.DateKey(weekStart))
	w.cacheWeek(ctx, instructorID, weekStart, last)
	return last
}

func (w *Warmer) cacheWeek(ctx context.Context, instructorID string, weekStart time.Time, schedule model.WeekSchedule) {
	if w.store == nil {
		return
	}
	raw, err := encodeSchedule(schedule)
	if err != nil {
		w.logger.Warn("cache encode failed", "instructor_id", instructorID, "err", err)
		return
	}
	if err := w.store.Set(ctx, weekKey(instructorID, weekStart), raw, weekTTL(weekStart, w.now())); err != nil {
		w.logger.Warn("cache write failed", "instructor_id", instructorID, "err", err)
	}
}

// verifyExpected checks a fetched week against the write's expected shape.
// Only edited dates inside this week count; a nil expectation accepts
// anything.
func verifyExpected(schedule model.WeekSchedule, weekStart time.Time, editedDates []time.Time, expected *model.ExpectedChanges) bool {
	if expected == nil {
		return true
	}
	inWeek := func(d time.Time) bool {
		return !d.Before(weekStart) && d.Before(weekStart.AddDate(0, 0, 7))
	}

	if expected.PerDate != nil {
		for _, d := range editedDates {
			if !inWeek(d) {
				continue
			}
			key := model.DateKey(d)
			want, ok := expected.PerDate[key]
			if !ok {
				continue
			}
			if len(schedule[key]) != want {
				return false
			}
		}
		return true
	}
	if expected.TotalWindows != nil {
		total := 0
		for _, d := range editedDates {
			if inWeek(d) {
				total += len(schedule[model.DateKey(d)])
			}
		}
		return total == *expected.TotalWindows
	}
	return true
}

// weekStartsOf maps dates to their distinct Mondays, in ascending order.
func weekStartsOf(dates []time.Time) []time.Time {
	seen := make(map[string]bool)
	var weeks []time.Time
	for _, d := range dates {
		weekStart := model.MondayOf(d)
		key := model.DateKey(weekStart)
		if seen[key] {
			continue
		}
		seen[key] = true
		weeks = append(weeks, weekStart)
	}
	for i := 1; i < len(weeks); i++ {
		for j := i; j > 0 && weeks[j].Before(weeks[j-1]); j-- {
			weeks[j], weeks[j-1] = weeks[j-1], weeks[j]
		}
	}
	return weeks
}
