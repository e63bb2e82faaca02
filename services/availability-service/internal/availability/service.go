// Package availability owns the authoritative instructor calendar: it
// validates and normalizes schedule edits, enforces the week-scoped
// optimistic-concurrency protocol, writes through the store and keeps the
// read cache and downstream consumers informed.
package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/conflict"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/outbox"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/timezone"
)

// Store is the persistence surface the service writes through.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetDaysForUpdate(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time) ([]model.AvailabilityDay, error)
	GetDaysRange(ctx context.Context, instructorID string, from, to time.Time) ([]model.AvailabilityDay, error)
	UpsertDays(ctx context.Context, tx pgx.Tx, days []model.AvailabilityDay) error
	BulkCreateSlots(ctx context.Context, tx pgx.Tx, slots []model.SlotRecord) (int, error)
	DeleteNonBookedSlots(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time, bookedIDs []int64) (int64, error)
}

// BookingSource looks up existing bookings; owned by the booking flow.
type BookingSource interface {
	ListForDates(ctx context.Context, instructorID string, dates []time.Time) ([]model.Booking, error)
}

type BlackoutStore interface {
	Add(ctx context.Context, b model.BlackoutDate) (model.BlackoutDate, error)
	List(ctx context.Context, instructorID string) ([]model.BlackoutDate, error)
	Delete(ctx context.Context, instructorID string, day time.Time) error
}

type InstructorDirectory interface {
	Timezone(ctx context.Context, instructorID string) (string, error)
}

// Cache is the warming layer; both operations are best-effort from the
// service's point of view.
type Cache interface {
	InvalidateAndWarm(ctx context.Context, instructorID string, dates []time.Time, expected *model.ExpectedChanges) model.WeekSchedule
	Invalidate(ctx context.Context, instructorID string, dates []time.Time) error
}

// EventSink enqueues change events inside the write transaction.
type EventSink interface {
	Enqueue(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Config struct {
	// AllowPastEdits lifts the immutability of dates before the
	// instructor's local today.
	AllowPastEdits bool
	// SuppressPastEventNotifications skips change events when every
	// affected date is already in the past.
	SuppressPastEventNotifications bool
}

type Service struct {
	store       Store
	bookings    BookingSource
	blackouts   BlackoutStore
	instructors InstructorDirectory
	tz          *timezone.Service
	cache       Cache
	events      EventSink
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

func NewService(store Store, bookings BookingSource, blackouts BlackoutStore, instructors InstructorDirectory, tz *timezone.Service, events EventSink, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		store:       store,
		bookings:    bookings,
		blackouts:   blackouts,
		instructors: instructors,
		tz:          tz,
		events:      events,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetCache wires the warming layer. The cache fetches from this service, so
// it is constructed after it and attached here; a nil cache means every read
// goes to the store and warming is a no-op.
func (s *Service) SetCache(c Cache) {
	s.cache = c
}

// SlotInput is one wire-level schedule entry. Times are HH:MM:SS wall clock;
// an end before the start means the window crosses midnight.
type SlotInput struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type WeekPayload struct {
	Schedule      []SlotInput `json:"schedule"`
	WeekStart     string      `json:"week_start,omitempty"`
	BaseVersion   string      `json:"base_version,omitempty"`
	Override      bool        `json:"override,omitempty"`
	ClearExisting bool        `json:"clear_existing,omitempty"`
}

type SaveResult struct {
	WeekVersion    string
	EditedDates    []string
	WindowsCreated int
	// Schedule is the committed read model for the edited dates.
	Schedule model.WeekSchedule
}

type WeekResult struct {
	WeekStart string             `json:"week_start"`
	Version   string             `json:"version"`
	Schedule  model.WeekSchedule `json:"schedule"`
}

// RangeResult is a soft read: Degraded marks an intentionally empty result
// after a backend failure, so degradation is distinguishable from a
// genuinely empty calendar.
type RangeResult struct {
	Schedule model.WeekSchedule
	Degraded bool
}

// EnsureValidInterval rejects inverted or zero-length ranges before any
// further processing. Overnight windows must be split before this check.
func (s *Service) EnsureValidInterval(date time.Time, startMinute, endMinute int) error {
	if startMinute == endMinute {
		return model.ErrZeroLengthWindow
	}
	if endMinute < startMinute || startMinute < 0 || endMinute > model.MinutesPerDay {
		return model.ErrInvalidInterval
	}
	return nil
}

// DetermineWeekStart resolves the Monday a payload addresses: the explicit
// week_start if given, else the week of the earliest date in the schedule,
// else the week of the instructor's local today.
func (s *Service) DetermineWeekStart(ctx context.Context, instructorID string, p WeekPayload) (time.Time, error) {
	if p.WeekStart != "" {
		d, err := model.ParseDate(p.WeekStart)
		if err != nil {
			return time.Time{}, err
		}
		return model.MondayOf(d), nil
	}

	var earliest time.Time
	for _, slot := range p.Schedule {
		d, err := model.ParseDate(slot.Date)
		if err != nil {
			return time.Time{}, err
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	if !earliest.IsZero() {
		return model.MondayOf(earliest), nil
	}

	return model.MondayOf(s.LocalToday(ctx, instructorID)), nil
}

// GroupScheduleByDate buckets a flat slot list by date, splitting overnight
// windows at midnight and dropping dates before the instructor's local today
// unless past edits are allowed.
func (s *Service) GroupScheduleByDate(ctx context.Context, instructorID string, slots []SlotInput) (map[string][]model.Window, error) {
	today := s.LocalToday(ctx, instructorID)

	grouped := make(map[string][]model.Window)
	add := func(day time.Time, w model.Window) error {
		if err := s.EnsureValidInterval(day, w.StartMinute, w.EndMinute); err != nil {
			return err
		}
		if day.Before(today) && !s.cfg.AllowPastEdits {
			return nil
		}
		key := model.DateKey(day)
		grouped[key] = append(grouped[key], w)
		return nil
	}

	for _, slot := range slots {
		day, err := model.ParseDate(slot.Date)
		if err != nil {
			return nil, err
		}
		start, err := model.ParseMinute(slot.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := model.ParseMinute(slot.EndTime)
		if err != nil {
			return nil, err
		}

		if end < start {
			// Crosses midnight: split into two per-date windows.
			if err := add(day, model.Window{StartMinute: start, EndMinute: model.MinutesPerDay}); err != nil {
				return nil, err
			}
			if end > 0 {
				if err := add(day.AddDate(0, 0, 1), model.Window{StartMinute: 0, EndMinute: end}); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := add(day, model.Window{StartMinute: start, EndMinute: end}); err != nil {
			return nil, err
		}
	}

	for key := range grouped {
		wins := grouped[key]
		sort.Slice(wins, func(i, j int) bool { return wins[i].StartMinute < wins[j].StartMinute })
		grouped[key] = wins
	}
	return grouped, nil
}

// ValidateNoOverlaps runs the conflict checker per date over the proposed
// windows, combined with the already-persisted ones unless ignoreExisting is
// set, and fails on the first collision found.
func (s *Service) ValidateNoOverlaps(scheduleByDate, existingByDate map[string][]model.Window, ignoreExisting bool) error {
	dates := make([]string, 0, len(scheduleByDate))
	for d := range scheduleByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		var existing []model.Window
		if !ignoreExisting {
			existing = existingByDate[date]
		}
		overlaps, err := conflict.Classify(date, scheduleByDate[date], existing)
		if err != nil {
			return err
		}
		if len(overlaps) > 0 {
			return overlaps[0]
		}
	}
	return nil
}

// LocalToday resolves the instructor's current civil date from their stored
// time zone, degrading to the default zone when the lookup fails.
func (s *Service) LocalToday(ctx context.Context, instructorID string) time.Time {
	tzName, err := s.instructors.Timezone(ctx, instructorID)
	if err != nil {
		s.logger.Warn("instructor timezone lookup failed, using default zone", "instructor_id", instructorID, "err", err)
		tzName = ""
	}
	return s.tz.Today(tzName, s.now())
}

func weekDates(weekStart time.Time) []time.Time {
	out := make([]time.Time, 7)
	for i := range out {
		out[i] = weekStart.AddDate(0, 0, i)
	}
	return out
}

func sortedKeys(m map[string][]model.Window) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
