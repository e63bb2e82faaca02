package availability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/outbox"
)

// DayVersion derives the opaque per-day token from the day's content, so two
// identical bitmasks always carry identical versions.
func DayVersion(day time.Time, mask bitset.Mask) string {
	h := sha256.New()
	h.Write([]byte(model.DateKey(day)))
	b := mask.Bytes()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// WeekVersion folds the seven ordered day masks of a week into one token.
// Days without a row hash as all-clear, so an untouched week has a stable
// version. A malformed stored bitmask makes the version uncomputable.
func WeekVersion(weekStart time.Time, rows []model.AvailabilityDay) (string, error) {
	byDate := make(map[string]model.AvailabilityDay, len(rows))
	for _, r := range rows {
		byDate[model.DateKey(r.Day)] = r
	}

	h := sha256.New()
	for _, day := range weekDates(weekStart) {
		key := model.DateKey(day)
		var mask bitset.Mask
		if row, ok := byDate[key]; ok {
			m, err := bitset.FromBytes(row.Bitmask)
			if err != nil {
				return "", fmt.Errorf("day %s: %w", key, err)
			}
			mask = m
		}
		h.Write([]byte(key))
		b := mask.Bytes()
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

type weekChangedPayload struct {
	InstructorID string   `json:"instructor_id"`
	WeekStart    string   `json:"week_start"`
	Version      string   `json:"version"`
	Dates        []string `json:"dates"`
}

// SaveWeekBits commits a validated set of per-date windows in one
// transaction. The whole week is locked and version-gated even when only some
// of its dates change; bits under confirmed or completed bookings survive
// every edit, including clearExisting.
func (s *Service) SaveWeekBits(ctx context.Context, instructorID string, weekStart time.Time, windowsByDate map[string][]model.Window, baseVersion string, override, clearExisting bool) (SaveResult, error) {
	editedDates := sortedKeys(windowsByDate)
	if len(editedDates) == 0 && !clearExisting {
		version, err := s.currentWeekVersion(ctx, instructorID, weekStart)
		if err != nil {
			return SaveResult{}, err
		}
		return SaveResult{WeekVersion: version, Schedule: model.WeekSchedule{}}, nil
	}

	today := s.LocalToday(ctx, instructorID)

	// Validate everything before touching the store: a payload either
	// applies in full or not at all.
	dates := make([]time.Time, 0, len(editedDates))
	newMasks := make(map[string]bitset.Mask, len(editedDates))
	for _, key := range editedDates {
		day, err := model.ParseDate(key)
		if err != nil {
			return SaveResult{}, err
		}
		if day.Before(today) && !s.cfg.AllowPastEdits {
			return SaveResult{}, fmt.Errorf("%s: %w", key, model.ErrPastDateImmutable)
		}
		mask, err := bitset.FromWindows(windowsByDate[key])
		if err != nil {
			var oe *model.OverlapError
			if errors.As(err, &oe) && oe.Date == "" {
				oe.Date = key
			}
			return SaveResult{}, err
		}
		dates = append(dates, day)
		newMasks[key] = mask
	}

	bookings, err := s.bookings.ListForDates(ctx, instructorID, dates)
	if err != nil {
		return SaveResult{}, err
	}
	protected := make(map[string]bitset.Mask)
	var bookedSlotIDs []int64
	for _, b := range bookings {
		if !b.Protected() {
			continue
		}
		key := model.DateKey(b.Day)
		protected[key] = protected[key].Or(bitset.FromRange(b.StartMinute, b.EndMinute))
		if b.SlotID != nil {
			bookedSlotIDs = append(bookedSlotIDs, *b.SlotID)
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.GetDaysForUpdate(ctx, tx, instructorID, weekDates(weekStart))
	if err != nil {
		return SaveResult{}, err
	}

	currentVersion, verr := WeekVersion(weekStart, current)
	if verr != nil {
		s.logger.Warn("week version uncomputable, skipping concurrency gate",
			"instructor_id", instructorID, "week_start", model.DateKey(weekStart), "err", verr)
	} else if baseVersion != "" && !override && baseVersion != currentVersion {
		return SaveResult{}, &model.VersionConflictError{Supplied: baseVersion, Current: currentVersion}
	}

	currentByDate := make(map[string]model.AvailabilityDay, len(current))
	for _, row := range current {
		currentByDate[model.DateKey(row.Day)] = row
	}

	upserts := make([]model.AvailabilityDay, 0, len(editedDates))
	committed := make(model.WeekSchedule, len(editedDates))
	for _, key := range editedDates {
		var oldMask bitset.Mask
		if row, ok := currentByDate[key]; ok {
			if m, err := bitset.FromBytes(row.Bitmask); err == nil {
				oldMask = m
			}
		}

		final := newMasks[key]
		if !clearExisting {
			final = final.Or(oldMask)
		}
		// Booked bits are never dropped, whatever the payload says.
		final = final.Or(oldMask.And(protected[key]))

		day, _ := model.ParseDate(key)
		upserts = append(upserts, model.AvailabilityDay{
			InstructorID: instructorID,
			Day:          day,
			Bitmask:      final.Bytes(),
			Version:      DayVersion(day, final),
		})
		committed[key] = final.Windows()
		currentByDate[key] = upserts[len(upserts)-1]
	}

	if err := s.store.UpsertDays(ctx, tx, upserts); err != nil {
		return SaveResult{}, err
	}

	if _, err := s.store.DeleteNonBookedSlots(ctx, tx, instructorID, dates, bookedSlotIDs); err != nil {
		return SaveResult{}, err
	}
	slots := make([]model.SlotRecord, 0)
	for _, row := range upserts {
		key := model.DateKey(row.Day)
		for _, w := range committed[key] {
			if hasBookedSlot(bookings, row.Day, w) {
				continue
			}
			slots = append(slots, model.SlotRecord{
				InstructorID: instructorID,
				Day:          row.Day,
				StartMinute:  w.StartMinute,
				EndMinute:    w.EndMinute,
			})
		}
	}
	created, err := s.store.BulkCreateSlots(ctx, tx, slots)
	if err != nil {
		return SaveResult{}, err
	}

	merged := make([]model.AvailabilityDay, 0, len(currentByDate))
	for _, row := range currentByDate {
		merged = append(merged, row)
	}
	newVersion, err := WeekVersion(weekStart, merged)
	if err != nil {
		newVersion = ""
	}

	if err := s.enqueueWeekChanged(ctx, tx, instructorID, weekStart, newVersion, editedDates, dates, today); err != nil {
		return SaveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{
		WeekVersion:    newVersion,
		EditedDates:    editedDates,
		WindowsCreated: created,
		Schedule:       committed,
	}, nil
}

// hasBookedSlot reports whether a protected booking with a live slot row
// already covers exactly this window, in which case the slot is kept rather
// than recreated.
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

func (s *Service) enqueueWeekChanged(ctx context.Context, tx pgx.Tx, instructorID string, weekStart time.Time, version string, editedDates []string, dates []time.Time, today time.Time) error {
	if s.events == nil {
		return nil
	}
	if s.cfg.SuppressPastEventNotifications && allPast(dates, today) {
		s.logger.Info("suppressing change event for past-only edit",
			"instructor_id", instructorID, "week_start", model.DateKey(weekStart))
		return nil
	}
	payload, err := json.Marshal(weekChangedPayload{
		InstructorID: instructorID,
		WeekStart:    model.DateKey(weekStart),
		Version:      version,
		Dates:        editedDates,
	})
	if err != nil {
		return err
	}
	return s.events.Enqueue(ctx, tx, outbox.Event{
		AggregateType: "availability_week",
		AggregateID:   instructorID,
		EventType:     outbox.EventTypeWeekChanged,
		Payload:       payload,
	})
}

func allPast(dates []time.Time, today time.Time) bool {
	if len(dates) == 0 {
		return false
	}
	for _, d := range dates {
		if !d.Before(today) {
			return false
		}
	}
	return true
}

// SaveWeekAvailability is the full edit flow: normalize the payload, validate
// it against persisted windows, commit via SaveWeekBits, then refresh the
// cache and return the warmed read model.
func (s *Service) SaveWeekAvailability(ctx context.Context, instructorID string, p WeekPayload) (WeekResult, error) {
	weekStart, err := s.DetermineWeekStart(ctx, instructorID, p)
	if err != nil {
		return WeekResult{}, err
	}
	grouped, err := s.GroupScheduleByDate(ctx, instructorID, p.Schedule)
	if err != nil {
		return WeekResult{}, err
	}

	existing, err := s.existingWindows(ctx, instructorID, grouped)
	if err != nil {
		return WeekResult{}, err
	}
	if err := s.ValidateNoOverlaps(grouped, existing, p.ClearExisting); err != nil {
		return WeekResult{}, err
	}

	saved, err := s.SaveWeekBits(ctx, instructorID, weekStart, grouped, p.BaseVersion, p.Override, p.ClearExisting)
	if err != nil {
		return WeekResult{}, err
	}

	schedule := s.refreshAfterSave(ctx, instructorID, weekStart, saved)
	return WeekResult{
		WeekStart: model.DateKey(weekStart),
		Version:   saved.WeekVersion,
		Schedule:  schedule,
	}, nil
}

// existingWindows loads the persisted windows for the edited dates, decoding
// each day's bitmask; undecodable days are skipped here and handled by the
// version gate in SaveWeekBits.
func (s *Service) existingWindows(ctx context.Context, instructorID string, grouped map[string][]model.Window) (map[string][]model.Window, error) {
	keys := sortedKeys(grouped)
	if len(keys) == 0 {
		return nil, nil
	}
	from, _ := model.ParseDate(keys[0])
	to, _ := model.ParseDate(keys[len(keys)-1])

	rows, err := s.store.GetDaysRange(ctx, instructorID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	existing := make(map[string][]model.Window, len(rows))
	for _, row := range rows {
		mask, err := bitset.FromBytes(row.Bitmask)
		if err != nil {
			continue
		}
		existing[model.DateKey(row.Day)] = mask.Windows()
	}
	return existing, nil
}

// refreshAfterSave invalidates and re-warms the cache for the edited dates,
// preferring the warmed read model over the transaction's view. A nil or
// failing cache degrades to the committed schedule.
func (s *Service) refreshAfterSave(ctx context.Context, instructorID string, weekStart time.Time, saved SaveResult) model.WeekSchedule {
	if s.cache == nil {
		return saved.Schedule
	}
	expected := &model.ExpectedChanges{PerDate: make(map[string]int, len(saved.Schedule))}
	for key, wins := range saved.Schedule {
		expected.PerDate[key] = len(wins)
	}
	dates := make([]time.Time, 0, len(saved.EditedDates))
	for _, key := range saved.EditedDates {
		d, _ := model.ParseDate(key)
		dates = append(dates, d)
	}
	if warmed := s.cache.InvalidateAndWarm(ctx, instructorID, dates, expected); warmed != nil {
		return warmed
	}
	return saved.Schedule
}

func (s *Service) currentWeekVersion(ctx context.Context, instructorID string, weekStart time.Time) (string, error) {
	rows, err := s.store.GetDaysRange(ctx, instructorID, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		return "", err
	}
	version, err := WeekVersion(weekStart, rows)
	if err != nil {
		return "", nil
	}
	return version, nil
}
