package availability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/outbox"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/timezone"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeStore struct {
	days       map[string]model.AvailabilityDay // date key -> row
	slots      []model.SlotRecord
	nextSlotID int64
	beginCount int
	lastTx     *fakeTx
	failRange  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{days: make(map[string]model.AvailabilityDay), nextSlotID: 1}
}

func (s *fakeStore) Begin(context.Context) (pgx.Tx, error) {
	s.beginCount++
	s.lastTx = &fakeTx{}
	return s.lastTx, nil
}

func (s *fakeStore) GetDaysForUpdate(_ context.Context, _ pgx.Tx, _ string, dates []time.Time) ([]model.AvailabilityDay, error) {
	var out []model.AvailabilityDay
	for _, d := range dates {
		if row, ok := s.days[model.DateKey(d)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) GetDaysRange(_ context.Context, _ string, from, to time.Time) ([]model.AvailabilityDay, error) {
	if s.failRange {
		return nil, errors.New("connection refused")
	}
	var out []model.AvailabilityDay
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if row, ok := s.days[model.DateKey(d)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertDays(_ context.Context, _ pgx.Tx, days []model.AvailabilityDay) error {
	for _, row := range days {
		s.days[model.DateKey(row.Day)] = row
	}
	return nil
}

func (s *fakeStore) GetSlots(_ context.Context, _ string, dates []time.Time) ([]model.SlotRecord, error) {
	keys := make(map[string]bool, len(dates))
	for _, d := range dates {
		keys[model.DateKey(d)] = true
	}
	var out []model.SlotRecord
	for _, slot := range s.slots {
		if keys[model.DateKey(slot.Day)] {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (s *fakeStore) BulkCreateSlots(_ context.Context, _ pgx.Tx, slots []model.SlotRecord) (int, error) {
	for _, slot := range slots {
		slot.ID = s.nextSlotID
		s.nextSlotID++
		s.slots = append(s.slots, slot)
	}
	return len(slots), nil
}

func (s *fakeStore) DeleteNonBookedSlots(_ context.Context, _ pgx.Tx, _ string, dates []time.Time, bookedIDs []int64) (int64, error) {
	keys := make(map[string]bool, len(dates))
	for _, d := range dates {
		keys[model.DateKey(d)] = true
	}
	booked := make(map[int64]bool, len(bookedIDs))
	for _, id := range bookedIDs {
		booked[id] = true
	}
	var kept []model.SlotRecord
	var removed int64
	for _, slot := range s.slots {
		if keys[model.DateKey(slot.Day)] && !booked[slot.ID] {
			removed++
			continue
		}
		kept = append(kept, slot)
	}
	s.slots = kept
	return removed, nil
}

type fakeBookings struct {
	bookings []model.Booking
	err      error
}

func (b *fakeBookings) ListForDates(_ context.Context, _ string, dates []time.Time) ([]model.Booking, error) {
	if b.err != nil {
		return nil, b.err
	}
	keys := make(map[string]bool, len(dates))
	for _, d := range dates {
		keys[model.DateKey(d)] = true
	}
	var out []model.Booking
	for _, bk := range b.bookings {
		if keys[model.DateKey(bk.Day)] {
			out = append(out, bk)
		}
	}
	return out, nil
}

type fakeBlackouts struct {
	list    []model.BlackoutDate
	listErr error
}

func (b *fakeBlackouts) Add(_ context.Context, in model.BlackoutDate) (model.BlackoutDate, error) {
	for _, existing := range b.list {
		if existing.Day.Equal(in.Day) {
			return model.BlackoutDate{}, model.ErrDuplicateBlackout
		}
	}
	in.ID = "blk-1"
	b.list = append(b.list, in)
	return in, nil
}

func (b *fakeBlackouts) List(context.Context, string) ([]model.BlackoutDate, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.list, nil
}

func (b *fakeBlackouts) Delete(_ context.Context, _ string, day time.Time) error {
	for i, existing := range b.list {
		if existing.Day.Equal(day) {
			b.list = append(b.list[:i], b.list[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

type fakeDirectory struct {
	tz string
}

func (d *fakeDirectory) Timezone(context.Context, string) (string, error) {
	return d.tz, nil
}

type fakeEvents struct {
	enqueued []outbox.Event
}

func (e *fakeEvents) Enqueue(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	e.enqueued = append(e.enqueued, evt)
	return nil
}

type fakeCache struct {
	warmed      model.WeekSchedule
	warmCalls   int
	invalidated [][]time.Time
}

func (c *fakeCache) InvalidateAndWarm(_ context.Context, _ string, dates []time.Time, _ *model.ExpectedChanges) model.WeekSchedule {
	c.warmCalls++
	c.invalidated = append(c.invalidated, dates)
	return c.warmed
}

func (c *fakeCache) Invalidate(_ context.Context, _ string, dates []time.Time) error {
	c.invalidated = append(c.invalidated, dates)
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

var testLogger = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))

type fixture struct {
	store     *fakeStore
	bookings  *fakeBookings
	blackouts *fakeBlackouts
	events    *fakeEvents
	svc       *Service
}

// newFixture wires a service with a fixed clock: Wednesday 2025-06-04 noon UTC.
func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:     newFakeStore(),
		bookings:  &fakeBookings{},
		blackouts: &fakeBlackouts{},
		events:    &fakeEvents{},
	}
	tz := timezone.NewService("UTC", testLogger)
	f.svc = NewService(f.store, f.bookings, f.blackouts, &fakeDirectory{tz: "UTC"}, tz, f.events, testLogger, cfg)
	f.svc.now = func() time.Time { return time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC) }
	return f
}

func date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) seedDay(key string, windows ...model.Window) {
	mask, err := bitset.FromWindows(windows)
	if err != nil {
		panic(err)
	}
	day := date(key)
	f.store.days[key] = model.AvailabilityDay{
		InstructorID: "inst-1",
		Day:          day,
		Bitmask:      mask.Bytes(),
		Version:      DayVersion(day, mask),
	}
}

func dayWindows(t *testing.T, f *fixture, key string) []model.Window {
	t.Helper()
	row, ok := f.store.days[key]
	if !ok {
		t.Fatalf("no day row for %s", key)
	}
	mask, err := bitset.FromBytes(row.Bitmask)
	if err != nil {
		t.Fatalf("stored bitmask invalid: %v", err)
	}
	return mask.Windows()
}

func TestSaveWeekAvailabilityPersistsSchedule(t *testing.T) {
	f := newFixture(Config{})
	result, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{
			{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "12:00:00"},
			{Date: "2025-06-06", StartTime: "14:00:00", EndTime: "15:00:00"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WeekStart != "2025-06-02" {
		t.Fatalf("expected week start 2025-06-02, got %s", result.WeekStart)
	}
	if result.Version == "" {
		t.Fatalf("expected a week version")
	}

	wins := dayWindows(t, f, "2025-06-05")
	if len(wins) != 1 || wins[0].StartMinute != 540 || wins[0].EndMinute != 720 {
		t.Fatalf("unexpected windows for 2025-06-05: %v", wins)
	}
	if len(f.store.slots) != 2 {
		t.Fatalf("expected 2 slot rows, got %d", len(f.store.slots))
	}
	if len(f.events.enqueued) != 1 || f.events.enqueued[0].EventType != outbox.EventTypeWeekChanged {
		t.Fatalf("expected one week-changed event, got %v", f.events.enqueued)
	}
	if !f.store.lastTx.committed {
		t.Fatalf("expected transaction committed")
	}
}

func TestSaveWeekRejectsOverlapWithoutPersisting(t *testing.T) {
	f := newFixture(Config{})
	_, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{
			{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "12:00:00"},
			{Date: "2025-06-05", StartTime: "11:00:00", EndTime: "13:00:00"},
		},
	})
	if !model.IsOverlap(err) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	var oe *model.OverlapError
	if !errors.As(err, &oe) || oe.Kind != model.OverlapNewVsNew {
		t.Fatalf("expected new_vs_new tagging, got %v", err)
	}
	if f.store.beginCount != 0 {
		t.Fatalf("expected no transaction for invalid payload")
	}
	if len(f.store.days) != 0 || len(f.events.enqueued) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestSaveWeekRejectsOverlapWithExistingWindows(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})

	_, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{{Date: "2025-06-05", StartTime: "11:00:00", EndTime: "13:00:00"}},
	})
	var oe *model.OverlapError
	if !errors.As(err, &oe) || oe.Kind != model.OverlapNewVsExisting {
		t.Fatalf("expected new_vs_existing overlap, got %v", err)
	}

	// clear_existing replaces the day, so the same payload passes.
	if _, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule:      []SlotInput{{Date: "2025-06-05", StartTime: "11:00:00", EndTime: "13:00:00"}},
		ClearExisting: true,
	}); err != nil {
		t.Fatalf("unexpected error with clear_existing: %v", err)
	}
	wins := dayWindows(t, f, "2025-06-05")
	if len(wins) != 1 || wins[0].StartMinute != 660 {
		t.Fatalf("expected replacement windows, got %v", wins)
	}
}

func TestSaveWeekZeroLengthWindow(t *testing.T) {
	f := newFixture(Config{})
	_, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "09:00:00"}},
	})
	if !errors.Is(err, model.ErrZeroLengthWindow) {
		t.Fatalf("expected ErrZeroLengthWindow, got %v", err)
	}
}

func TestStaleVersionRejectedAndOverridable(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})

	windows := map[string][]model.Window{"2025-06-06": {{StartMinute: 600, EndMinute: 660}}}
	weekStart := date("2025-06-02")

	_, err := f.svc.SaveWeekBits(context.Background(), "inst-1", weekStart, windows, "stale-token", false, false)
	var vc *model.VersionConflictError
	if !errors.As(err, &vc) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if vc.Supplied != "stale-token" || vc.Current == "" {
		t.Fatalf("conflict should carry both versions: %+v", vc)
	}
	if !model.IsConflict(err) {
		t.Fatalf("expected IsConflict to match")
	}

	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", weekStart, windows, "stale-token", true, false); err != nil {
		t.Fatalf("override should bypass the gate: %v", err)
	}
}

func TestMatchingBaseVersionPasses(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})
	weekStart := date("2025-06-02")

	_, current, err := f.svc.GetWeekAvailability(context.Background(), "inst-1", weekStart, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	windows := map[string][]model.Window{"2025-06-06": {{StartMinute: 600, EndMinute: 660}}}
	result, err := f.svc.SaveWeekBits(context.Background(), "inst-1", weekStart, windows, current, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.WeekVersion == current {
		t.Fatalf("version should change after an edit")
	}
}

func TestVersionGateSkippedWhenUncomputable(t *testing.T) {
	f := newFixture(Config{})
	f.store.days["2025-06-05"] = model.AvailabilityDay{
		InstructorID: "inst-1",
		Day:          date("2025-06-05"),
		Bitmask:      []byte{0x01, 0x02}, // wrong width, version uncomputable
	}

	windows := map[string][]model.Window{"2025-06-06": {{StartMinute: 600, EndMinute: 660}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-06-02"), windows, "whatever", false, false); err != nil {
		t.Fatalf("gate should be skipped when version is uncomputable: %v", err)
	}
	if len(dayWindows(t, f, "2025-06-06")) != 1 {
		t.Fatalf("expected write to proceed")
	}
}

func TestClearExistingPreservesBookedBits(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})
	slotID := int64(7)
	f.store.slots = []model.SlotRecord{{ID: slotID, InstructorID: "inst-1", Day: date("2025-06-05"), StartMinute: 600, EndMinute: 660}}
	f.bookings.bookings = []model.Booking{{
		ID: "bk-1", InstructorID: "inst-1", SlotID: &slotID,
		Day: date("2025-06-05"), StartMinute: 600, EndMinute: 660,
		Status: model.BookingStatusConfirmed,
	}}

	windows := map[string][]model.Window{"2025-06-05": {{StartMinute: 800, EndMinute: 900}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-06-02"), windows, "", false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wins := dayWindows(t, f, "2025-06-05")
	if len(wins) != 2 {
		t.Fatalf("expected booked window preserved plus new one, got %v", wins)
	}
	if wins[0].StartMinute != 600 || wins[0].EndMinute != 660 {
		t.Fatalf("booked 10:00-11:00 must survive clear_existing, got %v", wins[0])
	}
	if wins[1].StartMinute != 800 || wins[1].EndMinute != 900 {
		t.Fatalf("new window missing, got %v", wins[1])
	}

	// The booked slot row survives reconciliation; only unbooked rows churn.
	foundBooked := false
	for _, slot := range f.store.slots {
		if slot.ID == slotID {
			foundBooked = true
		}
	}
	if !foundBooked {
		t.Fatalf("booked slot row must not be deleted")
	}
}

func TestPendingBookingsAreNotProtected(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})
	f.bookings.bookings = []model.Booking{{
		ID: "bk-1", InstructorID: "inst-1",
		Day: date("2025-06-05"), StartMinute: 600, EndMinute: 660,
		Status: model.BookingStatusPending,
	}}

	windows := map[string][]model.Window{"2025-06-05": {{StartMinute: 800, EndMinute: 900}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-06-02"), windows, "", false, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wins := dayWindows(t, f, "2025-06-05")
	if len(wins) != 1 || wins[0].StartMinute != 800 {
		t.Fatalf("pending booking must not pin bits, got %v", wins)
	}
}

func TestMergeWithoutClearExisting(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 600})

	windows := map[string][]model.Window{"2025-06-05": {{StartMinute: 660, EndMinute: 720}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-06-02"), windows, "", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wins := dayWindows(t, f, "2025-06-05")
	if len(wins) != 2 {
		t.Fatalf("expected union of old and new windows, got %v", wins)
	}
}

func TestPastDatesDroppedOnGroupingAndRejectedOnSave(t *testing.T) {
	f := newFixture(Config{})
	grouped, err := f.svc.GroupScheduleByDate(context.Background(), "inst-1", []SlotInput{
		{Date: "2025-06-01", StartTime: "09:00:00", EndTime: "10:00:00"},
		{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "10:00:00"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := grouped["2025-06-01"]; ok {
		t.Fatalf("past date should be dropped")
	}
	if len(grouped["2025-06-05"]) != 1 {
		t.Fatalf("future date should survive")
	}

	windows := map[string][]model.Window{"2025-06-01": {{StartMinute: 540, EndMinute: 600}}}
	_, err = f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-05-26"), windows, "", false, false)
	if !errors.Is(err, model.ErrPastDateImmutable) {
		t.Fatalf("expected ErrPastDateImmutable, got %v", err)
	}

	allowed := newFixture(Config{AllowPastEdits: true})
	grouped, err = allowed.svc.GroupScheduleByDate(context.Background(), "inst-1", []SlotInput{
		{Date: "2025-06-01", StartTime: "09:00:00", EndTime: "10:00:00"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grouped["2025-06-01"]) != 1 {
		t.Fatalf("past date should be kept when past edits are allowed")
	}
}

func TestOvernightWindowSplitsAtMidnight(t *testing.T) {
	f := newFixture(Config{})
	grouped, err := f.svc.GroupScheduleByDate(context.Background(), "inst-1", []SlotInput{
		{Date: "2025-06-05", StartTime: "22:00:00", EndTime: "02:00:00"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := grouped["2025-06-05"]
	if len(first) != 1 || first[0].StartMinute != 1320 || first[0].EndMinute != 1440 {
		t.Fatalf("expected 22:00-24:00 on the first date, got %v", first)
	}
	second := grouped["2025-06-06"]
	if len(second) != 1 || second[0].StartMinute != 0 || second[0].EndMinute != 120 {
		t.Fatalf("expected 00:00-02:00 on the next date, got %v", second)
	}
}

func TestDetermineWeekStart(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	// Explicit value floors to its Monday.
	got, err := f.svc.DetermineWeekStart(ctx, "inst-1", WeekPayload{WeekStart: "2025-06-05"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.DateKey(got) != "2025-06-02" {
		t.Fatalf("expected 2025-06-02, got %s", model.DateKey(got))
	}

	// Else the week of the earliest schedule date.
	got, err = f.svc.DetermineWeekStart(ctx, "inst-1", WeekPayload{Schedule: []SlotInput{
		{Date: "2025-06-12", StartTime: "09:00:00", EndTime: "10:00:00"},
		{Date: "2025-06-10", StartTime: "09:00:00", EndTime: "10:00:00"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.DateKey(got) != "2025-06-09" {
		t.Fatalf("expected 2025-06-09, got %s", model.DateKey(got))
	}

	// Else the current week in the instructor's zone.
	got, err = f.svc.DetermineWeekStart(ctx, "inst-1", WeekPayload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.DateKey(got) != "2025-06-02" {
		t.Fatalf("expected 2025-06-02, got %s", model.DateKey(got))
	}
}

func TestPastOnlyEditSuppressesEvent(t *testing.T) {
	f := newFixture(Config{AllowPastEdits: true, SuppressPastEventNotifications: true})

	windows := map[string][]model.Window{"2025-06-01": {{StartMinute: 540, EndMinute: 600}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-05-26"), windows, "", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.events.enqueued) != 0 {
		t.Fatalf("expected no event for a past-only edit, got %d", len(f.events.enqueued))
	}

	windows = map[string][]model.Window{"2025-06-05": {{StartMinute: 540, EndMinute: 600}}}
	if _, err := f.svc.SaveWeekBits(context.Background(), "inst-1", date("2025-06-02"), windows, "", false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.events.enqueued) != 1 {
		t.Fatalf("expected event for a future edit, got %d", len(f.events.enqueued))
	}
}

func TestSaveReturnsWarmedScheduleWhenCacheAgrees(t *testing.T) {
	f := newFixture(Config{})
	warmed := model.WeekSchedule{"2025-06-05": {{StartMinute: 540, EndMinute: 720}}}
	cache := &fakeCache{warmed: warmed}
	f.svc.SetCache(cache)

	result, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "12:00:00"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.warmCalls != 1 {
		t.Fatalf("expected one warm cycle, got %d", cache.warmCalls)
	}
	if len(result.Schedule["2025-06-05"]) != 1 {
		t.Fatalf("expected warmed schedule in the result, got %v", result.Schedule)
	}
}

func TestSaveFallsBackToCommittedScheduleWhenWarmFails(t *testing.T) {
	f := newFixture(Config{})
	f.svc.SetCache(&fakeCache{warmed: nil})

	result, err := f.svc.SaveWeekAvailability(context.Background(), "inst-1", WeekPayload{
		Schedule: []SlotInput{{Date: "2025-06-05", StartTime: "09:00:00", EndTime: "12:00:00"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Schedule["2025-06-05"]) != 1 {
		t.Fatalf("expected committed schedule fallback, got %v", result.Schedule)
	}
}

func TestGetWeekAvailabilityIncludeEmpty(t *testing.T) {
	f := newFixture(Config{})
	f.seedDay("2025-06-05", model.Window{StartMinute: 540, EndMinute: 720})

	schedule, version, err := f.svc.GetWeekAvailability(context.Background(), "inst-1", date("2025-06-04"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schedule) != 7 {
		t.Fatalf("expected all 7 dates, got %d", len(schedule))
	}
	if len(schedule["2025-06-02"]) != 0 {
		t.Fatalf("expected empty monday, got %v", schedule["2025-06-02"])
	}
	if version == "" {
		t.Fatalf("expected a computable version")
	}

	schedule, _, err = f.svc.GetWeekAvailability(context.Background(), "inst-1", date("2025-06-04"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(schedule) != 1 {
		t.Fatalf("expected only populated dates, got %d", len(schedule))
	}
}

func TestRangeReadDegradesOnStoreFailure(t *testing.T) {
	f := newFixture(Config{})
	f.store.failRange = true

	result := f.svc.GetAvailabilityForDateRange(context.Background(), "inst-1", date("2025-06-01"), date("2025-06-30"))
	if !result.Degraded {
		t.Fatalf("expected degraded result")
	}
	if len(result.Schedule) != 0 {
		t.Fatalf("expected empty schedule, got %v", result.Schedule)
	}

	if _, err := f.svc.GetAllAvailability(context.Background(), "inst-1", date("2025-06-01"), date("2025-06-30")); err == nil {
		t.Fatalf("authoritative read must propagate the failure")
	}
}

func TestBlackoutDates(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()

	added, err := f.svc.AddBlackoutDate(ctx, "inst-1", date("2025-07-04"), "holiday")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added.ID == "" {
		t.Fatalf("expected assigned id")
	}

	_, err = f.svc.AddBlackoutDate(ctx, "inst-1", date("2025-07-04"), "again")
	if !errors.Is(err, model.ErrDuplicateBlackout) || !model.IsConflict(err) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}

	list, degraded := f.svc.GetBlackoutDates(ctx, "inst-1")
	if degraded || len(list) != 1 {
		t.Fatalf("expected 1 blackout, got %d (degraded=%v)", len(list), degraded)
	}

	f.blackouts.listErr = errors.New("connection refused")
	list, degraded = f.svc.GetBlackoutDates(ctx, "inst-1")
	if !degraded || len(list) != 0 {
		t.Fatalf("expected degraded empty list, got %d (degraded=%v)", len(list), degraded)
	}

	f.blackouts.listErr = nil
	if err := f.svc.DeleteBlackoutDate(ctx, "inst-1", date("2025-07-04")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.DeleteBlackoutDate(ctx, "inst-1", date("2025-07-04")); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing blackout, got %v", err)
	}
}
