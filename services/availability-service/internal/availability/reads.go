package availability

import (
	"context"
	"time"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// GetWeekAvailability reads one week straight from the store. With
// includeEmpty set, every date of the week appears in the schedule even when
// it has no windows, which is the shape cache entries are built from.
func (s *Service) GetWeekAvailability(ctx context.Context, instructorID string, startDate time.Time, includeEmpty bool) (model.WeekSchedule, string, error) {
	weekStart := model.MondayOf(startDate)
	rows, err := s.store.GetDaysRange(ctx, instructorID, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		return nil, "", err
	}

	schedule := scheduleFromRows(rows)
	if includeEmpty {
		for _, day := range weekDates(weekStart) {
			key := model.DateKey(day)
			if _, ok := schedule[key]; !ok {
				schedule[key] = []model.Window{}
			}
		}
	}

	version, err := WeekVersion(weekStart, rows)
	if err != nil {
		s.logger.Warn("week version uncomputable on read",
			"instructor_id", instructorID, "week_start", model.DateKey(weekStart), "err", err)
		version = ""
	}
	return schedule, version, nil
}

// FetchWeek is the cache's load path; it always materializes all seven dates.
func (s *Service) FetchWeek(ctx context.Context, instructorID string, weekStart time.Time) (model.WeekSchedule, error) {
	schedule, _, err := s.GetWeekAvailability(ctx, instructorID, weekStart, true)
	return schedule, err
}

// FetchRange is the cache's load path for range entries.
func (s *Service) FetchRange(ctx context.Context, instructorID string, from, to time.Time) (model.WeekSchedule, error) {
	return s.GetAllAvailability(ctx, instructorID, from, to)
}

// GetAvailabilityForDateRange is a soft read for listing surfaces: a store
// failure yields an empty, degraded result instead of an error.
func (s *Service) GetAvailabilityForDateRange(ctx context.Context, instructorID string, from, to time.Time) RangeResult {
	rows, err := s.store.GetDaysRange(ctx, instructorID, from, to)
	if err != nil {
		s.logger.Warn("availability range read failed, serving empty",
			"instructor_id", instructorID, "from", model.DateKey(from), "to", model.DateKey(to), "err", err)
		return RangeResult{Schedule: model.WeekSchedule{}, Degraded: true}
	}
	return RangeResult{Schedule: scheduleFromRows(rows)}
}

// GetAllAvailability is the authoritative read over a range; failures
// propagate to the caller.
func (s *Service) GetAllAvailability(ctx context.Context, instructorID string, from, to time.Time) (model.WeekSchedule, error) {
	rows, err := s.store.GetDaysRange(ctx, instructorID, from, to)
	if err != nil {
		return nil, err
	}
	return scheduleFromRows(rows), nil
}

func scheduleFromRows(rows []model.AvailabilityDay) model.WeekSchedule {
	schedule := make(model.WeekSchedule, len(rows))
	for _, row := range rows {
		mask, err := bitset.FromBytes(row.Bitmask)
		if err != nil {
			continue
		}
		if wins := mask.Windows(); len(wins) > 0 {
			schedule[model.DateKey(row.Day)] = wins
		}
	}
	return schedule
}

func (s *Service) AddBlackoutDate(ctx context.Context, instructorID string, day time.Time, reason string) (model.BlackoutDate, error) {
	return s.blackouts.Add(ctx, model.BlackoutDate{
		InstructorID: instructorID,
		Day:          model.Midnight(day),
		Reason:       reason,
	})
}

// GetBlackoutDates soft-fails: blackouts decorate the calendar, so a read
// failure degrades to none rather than taking the whole view down.
func (s *Service) GetBlackoutDates(ctx context.Context, instructorID string) ([]model.BlackoutDate, bool) {
	list, err := s.blackouts.List(ctx, instructorID)
	if err != nil {
		s.logger.Warn("blackout list failed, serving empty", "instructor_id", instructorID, "err", err)
		return []model.BlackoutDate{}, true
	}
	return list, false
}

func (s *Service) DeleteBlackoutDate(ctx context.Context, instructorID string, day time.Time) error {
	return s.blackouts.Delete(ctx, instructorID, model.Midnight(day))
}

// InvalidateAvailabilityCaches drops cached reads for the given dates without
// re-warming. It never fails the caller: a stale cache entry expires on its
// own, so a failed invalidation is only logged.
func (s *Service) InvalidateAvailabilityCaches(ctx context.Context, instructorID string, dates []time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, instructorID, dates); err != nil {
		s.logger.Warn("cache invalidation failed", "instructor_id", instructorID, "err", err)
	}
}
