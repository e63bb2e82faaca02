// Package weekops holds the bulk calendar operations: replicating one week
// onto others, stamping a weekly pattern over a date range, and joining slots
// with their booking state. Replication is deliberately conservative: a
// target date that would lose time under a confirmed booking is skipped and
// reported, never clobbered.
package weekops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/availability"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/outbox"
)

// BookingSource extends the core booking lookup with a range fetch so the
// pattern path loads a whole range's bookings in one call.
type BookingSource interface {
	availability.BookingSource
	ListForRange(ctx context.Context, instructorID string, from, to time.Time) ([]model.Booking, error)
}

// Store is the direct persistence surface for the batched pattern path.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetDaysForUpdate(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time) ([]model.AvailabilityDay, error)
	UpsertDays(ctx context.Context, tx pgx.Tx, days []model.AvailabilityDay) error
	GetSlots(ctx context.Context, instructorID string, dates []time.Time) ([]model.SlotRecord, error)
	BulkCreateSlots(ctx context.Context, tx pgx.Tx, slots []model.SlotRecord) (int, error)
	DeleteNonBookedSlots(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time, bookedIDs []int64) (int64, error)
}

type Service struct {
	avail    *availability.Service
	store    Store
	bookings BookingSource
	events   availability.EventSink
	logger   *slog.Logger
}

func NewService(avail *availability.Service, store Store, bookings BookingSource, events availability.EventSink, logger *slog.Logger) *Service {
	return &Service{avail: avail, store: store, bookings: bookings, events: events, logger: logger}
}

// CopyResult reports what a week replication actually did. SkippedDates are
// target dates left untouched because copying would have removed time under a
// confirmed or completed booking.
type CopyResult struct {
	DatesCopied    int      `json:"dates_copied"`
	WindowsCreated int      `json:"windows_created"`
	SkippedDates   []string `json:"skipped_dates,omitempty"`
}

// CopyWeekAvailability replicates the source week's layout onto each target
// week. Each target week commits in its own transaction; on error the already
// copied weeks stay committed and the partial result is returned with the
// error.
func (s *Service) CopyWeekAvailability(ctx context.Context, instructorID string, sourceWeekStart time.Time, targetWeekStarts []time.Time) (CopyResult, error) {
	sourceWeekStart = model.MondayOf(sourceWeekStart)
	source, err := s.avail.GetAllAvailability(ctx, instructorID, sourceWeekStart, sourceWeekStart.AddDate(0, 0, 7))
	if err != nil {
		return CopyResult{}, err
	}

	// Source layout indexed by day-of-week offset.
	byOffset := make([][]model.Window, 7)
	for key, wins := range source {
		day, err := model.ParseDate(key)
		if err != nil {
			continue
		}
		offset := int(day.Sub(sourceWeekStart).Hours() / 24)
		if offset >= 0 && offset < 7 {
			byOffset[offset] = wins
		}
	}

	weeks := make([]time.Time, 0, len(targetWeekStarts))
	var allDates []time.Time
	for _, target := range targetWeekStarts {
		target = model.MondayOf(target)
		if target.Equal(sourceWeekStart) {
			continue
		}
		weeks = append(weeks, target)
		for i := 0; i < 7; i++ {
			allDates = append(allDates, target.AddDate(0, 0, i))
		}
	}
	if len(weeks) == 0 {
		return CopyResult{}, nil
	}

	bookings, err := s.bookings.ListForDates(ctx, instructorID, allDates)
	if err != nil {
		return CopyResult{}, err
	}
	protected := protectedMasks(bookings)

	var result CopyResult
	for _, target := range weeks {
		windowsByDate := make(map[string][]model.Window, 7)
		for i := 0; i < 7; i++ {
			day := target.AddDate(0, 0, i)
			key := model.DateKey(day)
			wins := byOffset[i]

			newMask, err := bitset.FromWindows(wins)
			if err != nil {
				return result, fmt.Errorf("source day %d: %w", i, err)
			}
			if !newMask.Contains(protected[key]) {
				result.SkippedDates = append(result.SkippedDates, key)
				continue
			}
			windowsByDate[key] = wins
		}
		if len(windowsByDate) == 0 {
			continue
		}

		saved, err := s.avail.SaveWeekBits(ctx, instructorID, target, windowsByDate, "", true, true)
		if err != nil {
			return result, fmt.Errorf("week %s: %w", model.DateKey(target), err)
		}
		result.DatesCopied += len(windowsByDate)
		result.WindowsCreated += saved.WindowsCreated
	}
	sort.Strings(result.SkippedDates)
	return result, nil
}

// PatternResult reports a pattern application over a range.
type PatternResult struct {
	DatesApplied   int      `json:"dates_applied"`
	WindowsCreated int      `json:"windows_created"`
	SkippedDates   []string `json:"skipped_dates,omitempty"`
}

// ApplyPatternToDateRange replicates the source week's weekday layout onto
// every matching weekday in [from, to). Weekdays empty in the source week are
// left alone.
func (s *Service) ApplyPatternToDateRange(ctx context.Context, instructorID string, sourceWeekStart, from, to time.Time) (PatternResult, error) {
	sourceWeekStart = model.MondayOf(sourceWeekStart)
	source, err := s.avail.GetAllAvailability(ctx, instructorID, sourceWeekStart, sourceWeekStart.AddDate(0, 0, 7))
	if err != nil {
		return PatternResult{}, err
	}
	pattern := make(map[time.Weekday][]model.Window)
	for key, wins := range source {
		day, err := model.ParseDate(key)
		if err != nil {
			continue
		}
		if len(wins) > 0 {
			pattern[day.Weekday()] = wins
		}
	}
	return s.applyPattern(ctx, instructorID, pattern, from, to)
}

// applyPattern stamps a weekday-keyed window pattern over every matching date
// in [from, to). The whole range commits in one transaction with one booking
// fetch and one batched insert, so round trips stay independent of the range
// length; past dates and dates whose confirmed bookings the pattern would not
// cover are skipped.
func (s *Service) applyPattern(ctx context.Context, instructorID string, pattern map[time.Weekday][]model.Window, from, to time.Time) (PatternResult, error) {
	patternMasks := make(map[time.Weekday]bitset.Mask, len(pattern))
	for weekday, wins := range pattern {
		mask, err := bitset.FromWindows(wins)
		if err != nil {
			return PatternResult{}, fmt.Errorf("pattern %s: %w", weekday, err)
		}
		patternMasks[weekday] = mask
	}

	today := s.avail.LocalToday(ctx, instructorID)
	var result PatternResult
	var dates []time.Time
	for d := model.Midnight(from); d.Before(to); d = d.AddDate(0, 0, 1) {
		if _, ok := pattern[d.Weekday()]; !ok {
			continue
		}
		if d.Before(today) {
			result.SkippedDates = append(result.SkippedDates, model.DateKey(d))
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return result, nil
	}

	bookings, err := s.bookings.ListForRange(ctx, instructorID, model.Midnight(from), to)
	if err != nil {
		return PatternResult{}, err
	}
	protected := protectedMasks(bookings)
	var bookedSlotIDs []int64
	for _, b := range bookings {
		if b.Protected() && b.SlotID != nil {
			bookedSlotIDs = append(bookedSlotIDs, *b.SlotID)
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return PatternResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.GetDaysForUpdate(ctx, tx, instructorID, dates)
	if err != nil {
		return PatternResult{}, err
	}
	oldMasks := make(map[string]bitset.Mask, len(current))
	for _, row := range current {
		if m, err := bitset.FromBytes(row.Bitmask); err == nil {
			oldMasks[model.DateKey(row.Day)] = m
		}
	}

	var applied []time.Time
	upserts := make([]model.AvailabilityDay, 0, len(dates))
	var slots []model.SlotRecord
	for _, day := range dates {
		key := model.DateKey(day)
		newMask := patternMasks[day.Weekday()]
		if !newMask.Contains(protected[key]) {
			result.SkippedDates = append(result.SkippedDates, key)
			continue
		}

		final := newMask.Or(oldMasks[key].And(protected[key]))
		upserts = append(upserts, model.AvailabilityDay{
			InstructorID: instructorID,
			Day:          day,
			Bitmask:      final.Bytes(),
			Version:      availability.DayVersion(day, final),
		})
		for _, w := range final.Windows() {
			if hasBookedSlot(bookings, day, w) {
				continue
			}
			slots = append(slots, model.SlotRecord{
				InstructorID: instructorID,
				Day:          day,
				StartMinute:  w.StartMinute,
				EndMinute:    w.EndMinute,
			})
		}
		applied = append(applied, day)
	}
	if len(applied) == 0 {
		sort.Strings(result.SkippedDates)
		return result, nil
	}

	if err := s.store.UpsertDays(ctx, tx, upserts); err != nil {
		return PatternResult{}, err
	}
	if _, err := s.store.DeleteNonBookedSlots(ctx, tx, instructorID, applied, bookedSlotIDs); err != nil {
		return PatternResult{}, err
	}
	created, err := s.store.BulkCreateSlots(ctx, tx, slots)
	if err != nil {
		return PatternResult{}, err
	}

	if err := s.enqueuePatternEvents(ctx, tx, instructorID, applied); err != nil {
		return PatternResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return PatternResult{}, err
	}
	result.DatesApplied = len(applied)
	result.WindowsCreated = created
	sort.Strings(result.SkippedDates)
	return result, nil
}

// enqueuePatternEvents emits one change event per week the pattern touched.
func (s *Service) enqueuePatternEvents(ctx context.Context, tx pgx.Tx, instructorID string, applied []time.Time) error {
	if s.events == nil {
		return nil
	}
	byWeek := make(map[string][]string)
	for _, day := range applied {
		weekKey := model.DateKey(model.MondayOf(day))
		byWeek[weekKey] = append(byWeek[weekKey], model.DateKey(day))
	}
	weekKeys := make([]string, 0, len(byWeek))
	for key := range byWeek {
		weekKeys = append(weekKeys, key)
	}
	sort.Strings(weekKeys)

	for _, weekKey := range weekKeys {
		payload, err := json.Marshal(struct {
			InstructorID string   `json:"instructor_id"`
			WeekStart    string   `json:"week_start"`
			Dates        []string `json:"dates"`
		}{instructorID, weekKey, byWeek[weekKey]})
		if err != nil {
			return err
		}
		if err := s.events.Enqueue(ctx, tx, outbox.Event{
			AggregateType: "availability_week",
			AggregateID:   instructorID,
			EventType:     outbox.EventTypeWeekChanged,
			Payload:       payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SlotStatus is one slot row joined with its booking, if any.
type SlotStatus struct {
	Slot      model.SlotRecord
	Booked    bool
	BookingID string
	Status    model.BookingStatus
}

// GetSlotsWithBookingStatus joins the slot rows for the given dates with
// non-canceled bookings, first by slot id, then by exact window for bookings
// that lost their slot reference.
func (s *Service) GetSlotsWithBookingStatus(ctx context.Context, instructorID string, dates []time.Time) ([]SlotStatus, error) {
	slots, err := s.store.GetSlots(ctx, instructorID, dates)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListForDates(ctx, instructorID, dates)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.Booking)
	var unlinked []model.Booking
	for _, b := range bookings {
		if b.SlotID != nil {
			byID[*b.SlotID] = b
		} else {
			unlinked = append(unlinked, b)
		}
	}

	out := make([]SlotStatus, 0, len(slots))
	for _, slot := range slots {
		status := SlotStatus{Slot: slot}
		if b, ok := byID[slot.ID]; ok {
			status.Booked = true
			status.BookingID = b.ID
			status.Status = b.Status
		} else {
			for _, b := range unlinked {
				if model.DateKey(b.Day) == model.DateKey(slot.Day) && b.StartMinute == slot.StartMinute && b.EndMinute == slot.EndMinute {
					status.Booked = true
					status.BookingID = b.ID
					status.Status = b.Status
					break
				}
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// ClearDates removes all unbooked availability on the given dates. Each
// affected week goes through the standard save path, so booked bits and the
// week version behave exactly as in a normal edit.
func (s *Service) ClearDates(ctx context.Context, instructorID string, dates []time.Time) error {
	byWeek := make(map[string]map[string][]model.Window)
	for _, day := range dates {
		weekKey := model.DateKey(model.MondayOf(day))
		if byWeek[weekKey] == nil {
			byWeek[weekKey] = make(map[string][]model.Window)
		}
		byWeek[weekKey][model.DateKey(day)] = []model.Window{}
	}
	weekKeys := make([]string, 0, len(byWeek))
	for key := range byWeek {
		weekKeys = append(weekKeys, key)
	}
	sort.Strings(weekKeys)

	for _, weekKey := range weekKeys {
		weekStart, err := model.ParseDate(weekKey)
		if err != nil {
			return err
		}
		if _, err := s.avail.SaveWeekBits(ctx, instructorID, weekStart, byWeek[weekKey], "", true, true); err != nil {
			return fmt.Errorf("week %s: %w", weekKey, err)
		}
	}
	return nil
}

// hasBookedSlot reports whether a protected booking with a live slot row
// already covers exactly this window; that slot row survives the delete, so
// recreating it would leave a duplicate free-looking row over booked time.
func hasBookedSlot(bookings []model.Booking, day time.Time, w model.Window) bool {
	key := model.DateKey(day)
	for _, b := range bookings {
		if !b.Protected() || b.SlotID == nil {
			continue
		}
		if model.DateKey(b.Day) == key && b.StartMinute == w.StartMinute && b.EndMinute == w.EndMinute {
			return true
		}
	}
	return false
}

func protectedMasks(bookings []model.Booking) map[string]bitset.Mask {
	protected := make(map[string]bitset.Mask)
	for _, b := range bookings {
		if !b.Protected() {
			continue
		}
		key := model.DateKey(b.Day)
		protected[key] = protected[key].Or(bitset.FromRange(b.StartMinute, b.EndMinute))
	}
	return protected
}
