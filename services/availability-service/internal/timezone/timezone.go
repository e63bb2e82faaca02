// Package timezone owns DST-safe conversion between instructor wall-clock
// time and UTC instants.
package timezone

import (
	"log/slog"
	"time"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// Service resolves zone names with a configured default; invalid identifiers
// anywhere degrade to the default rather than erroring.
type Service struct {
	defaultZone *time.Location
	logger      *slog.Logger
}

func NewService(defaultZone string, logger *slog.Logger) *Service {
	loc, err := time.LoadLocation(defaultZone)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid default timezone, using UTC", "zone", defaultZone, "err", err)
		}
		loc = time.UTC
	}
	return &Service{defaultZone: loc, logger: logger}
}

// Zone loads tz, falling back to the default zone when tz is empty or
// unparsable.
func (s *Service) Zone(tz string) *time.Location {
	if tz == "" {
		return s.defaultZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("invalid timezone, using default", "zone", tz)
		}
		return s.defaultZone
	}
	return loc
}

// LessonTimezone is the zone lessons are scheduled in: always the
// instructor's stored zone, online or not, with the default as fallback.
func (s *Service) LessonTimezone(instructorTZ string, isOnline bool) *time.Location {
	_ = isOnline
	return s.Zone(instructorTZ)
}

// LocalToUTC maps a wall-clock minute on a civil date to a UTC instant.
// A time inside a spring-forward gap returns TimeDoesNotExistError. An
// ambiguous fall-back time resolves deterministically to its first (daylight)
// occurrence.
func (s *Service) LocalToUTC(date time.Time, minuteOfDay int, tz string) (time.Time, error) {
	loc := s.Zone(tz)
	t := time.Date(date.Year(), date.Month(), date.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc)

	if !sameWall(t, date, minuteOfDay) {
		return time.Time{}, &model.TimeDoesNotExistError{
			Wall: model.DateKey(date) + " " + model.FormatMinute(minuteOfDay),
			Zone: loc.String(),
		}
	}

	// If the wall clock occurs twice the two instants differ by the DST
	// shift (assumed the common one hour). Pick the earlier instant.
	if alt := t.Add(-time.Hour); sameWall(alt, date, minuteOfDay) {
		t = alt
	}
	return t.UTC(), nil
}

// UTCToLocal renders an instant in the given zone. Instants are treated as
// absolute; a caller holding a naive timestamp should construct it in UTC.
func (s *Service) UTCToLocal(instant time.Time, tz string) time.Time {
	return instant.In(s.Zone(tz))
}

// ValidateTimeExists reports whether the wall-clock time is reachable on that
// date, with a human-readable reason when it is not.
func (s *Service) ValidateTimeExists(date time.Time, minuteOfDay int, tz string) (bool, string) {
	if _, err := s.LocalToUTC(date, minuteOfDay, tz); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// Today returns the current civil date in the instructor's zone.
func (s *Service) Today(instructorTZ string, now time.Time) time.Time {
	local := now.In(s.Zone(instructorTZ))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func sameWall(t time.Time, date time.Time, minuteOfDay int) bool {
	return t.Year() == date.Year() && t.Month() == date.Month() && t.Day() == date.Day() &&
		t.Hour() == minuteOfDay/60 && t.Minute() == minuteOfDay%60
}
