package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MinutesPerDay bounds window endpoints; a window ending at midnight uses
// EndMinute == MinutesPerDay.
const MinutesPerDay = 24 * 60

// Window is a half-open bookable range within one day, in minutes of the
// local day. EndMinute must be strictly greater than StartMinute.
type Window struct {
	StartMinute int
	EndMinute   int
}

func (w Window) StartTime() string { return FormatMinute(w.StartMinute) }
func (w Window) EndTime() string   { return FormatMinute(w.EndMinute) }

// windowJSON is the wire shape: HH:MM:SS strings, matching schedule payloads.
type windowJSON struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{StartTime: w.StartTime(), EndTime: w.EndTime()})
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var v windowJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	start, err := ParseMinute(v.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseMinute(v.EndTime)
	if err != nil {
		return err
	}
	w.StartMinute, w.EndMinute = start, end
	return nil
}

func (w Window) Overlaps(o Window) bool {
	// Half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
	return w.StartMinute < o.EndMinute && o.StartMinute < w.EndMinute
}

func (w Window) String() string {
	return w.StartTime() + "-" + w.EndTime()
}

// AvailabilityDay is the authoritative per-(instructor, date) record. Bitmask
// is a 36-byte vector, one bit per 5-minute slot. Version is an opaque token
// over the day's content, compared on writes.
type AvailabilityDay struct {
	InstructorID string
	Day          time.Time
	Bitmask      []byte
	Version      string
	UpdatedAt    time.Time
}

// SlotRecord materializes one window as a row so bookings can reference a slot
// id. Slot rows never carry a booking back-reference.
type SlotRecord struct {
	ID           int64
	InstructorID string
	Day          time.Time
	StartMinute  int
	EndMinute    int
	CreatedAt    time.Time
}

func (s SlotRecord) Window() Window {
	return Window{StartMinute: s.StartMinute, EndMinute: s.EndMinute}
}

// WeekSchedule is the read model: ISO date string -> ordered windows.
type WeekSchedule map[string][]Window

// TotalWindows counts windows across all dates.
func (ws WeekSchedule) TotalWindows() int {
	n := 0
	for _, wins := range ws {
		n += len(wins)
	}
	return n
}

// WeekSnapshot carries a week's days plus the version token derived from all
// seven days' content, used for optimistic concurrency at week granularity.
type WeekSnapshot struct {
	InstructorID string
	WeekStart    time.Time
	Days         map[string]AvailabilityDay
	WeekVersion  string
}

type BlackoutDate struct {
	ID           string
	InstructorID string
	Day          time.Time
	Reason       string
	CreatedAt    time.Time
}

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCanceled  BookingStatus = "canceled"
)

// Booking is the external collaborator's view of occupied time. SlotID is nil
// when the booking was taken against time that no longer has a slot row.
type Booking struct {
	ID           string
	InstructorID string
	SlotID       *int64
	Day          time.Time
	StartMinute  int
	EndMinute    int
	Status       BookingStatus
	CreatedAt    time.Time
}

func (b Booking) Window() Window {
	return Window{StartMinute: b.StartMinute, EndMinute: b.EndMinute}
}

// Protected reports whether availability edits must never clear the bits
// under this booking.
func (b Booking) Protected() bool {
	return b.Status == BookingStatusConfirmed || b.Status == BookingStatusCompleted
}

// ExpectedChanges is the optional verification target for cache warming:
// either a total window count across the warmed dates, or a per-date window
// count.
type ExpectedChanges struct {
	TotalWindows *int
	PerDate      map[string]int
}

const dateLayout = "2006-01-02"

func DateKey(t time.Time) string { return t.Format(dateLayout) }

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// MondayOf floors t to the Monday of its week, at midnight in t's location.
func MondayOf(t time.Time) time.Time {
	t = Midnight(t)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FormatMinute renders a minute of day as HH:MM:SS. MinutesPerDay renders as
// 24:00:00, the conventional end-of-day marker in schedule payloads.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d:00", m/60, m%60)
}

// ParseMinute accepts HH:MM or HH:MM:SS wall-clock strings. Seconds must be
// zero: the calendar's granularity is whole minutes.
func ParseMinute(s string) (int, error) {
	var h, m, sec int
	switch n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); n {
	case 2, 3:
	default:
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || sec != 0 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}
