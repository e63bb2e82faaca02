// Package bitset converts between window lists and the fixed-width per-day
// bit vector stored on availability_days rows.
package bitset

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

const (
	// SlotMinutes is the calendar granularity: one bit per 5-minute slot.
	SlotMinutes = 5
	SlotsPerDay = model.MinutesPerDay / SlotMinutes // 288
	MaskBytes   = SlotsPerDay / 8                   // 36
)

// Mask is one day's bit vector; bit i covers minutes [i*5, i*5+5), set = bookable.
type Mask [MaskBytes]byte

// FromBytes validates a stored bitmask. A nil slice is an all-clear day.
func FromBytes(b []byte) (Mask, error) {
	var m Mask
	if b == nil {
		return m, nil
	}
	if len(b) != MaskBytes {
		return m, fmt.Errorf("bitmask must be %d bytes, got %d", MaskBytes, len(b))
	}
	copy(m[:], b)
	return m, nil
}

func (m Mask) Bytes() []byte {
	out := make([]byte, MaskBytes)
	copy(out, m[:])
	return out
}

// FromWindows builds the day mask for a window set. Windows that are
// degenerate (start == end), inverted, or out of day bounds are rejected, as
// is any intersecting pair. Endpoints are snapped outward to the 5-minute
// grid, so the mask never covers less than the requested time.
func FromWindows(windows []model.Window) (Mask, error) {
	var m Mask
	if len(windows) == 0 {
		return m, nil
	}

	sorted := make([]model.Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })

	for i, w := range sorted {
		if w.StartMinute == w.EndMinute {
			return Mask{}, model.ErrZeroLengthWindow
		}
		if w.EndMinute < w.StartMinute || w.StartMinute < 0 || w.EndMinute > model.MinutesPerDay {
			return Mask{}, model.ErrInvalidInterval
		}
		if i > 0 && sorted[i-1].Overlaps(w) {
			return Mask{}, &model.OverlapError{Kind: model.OverlapNewVsNew, A: sorted[i-1], B: w}
		}
	}

	for _, w := range sorted {
		from := w.StartMinute / SlotMinutes
		to := (w.EndMinute + SlotMinutes - 1) / SlotMinutes
		for i := from; i < to; i++ {
			m[i/8] |= 1 << (i % 8)
		}
	}
	return m, nil
}

// Windows returns the ordered maximal runs of set bits.
func (m Mask) Windows() []model.Window {
	var out []model.Window
	start := -1
	for i := 0; i <= SlotsPerDay; i++ {
		set := i < SlotsPerDay && m[i/8]&(1<<(i%8)) != 0
		if set && start < 0 {
			start = i
		}
		if !set && start >= 0 {
			out = append(out, model.Window{StartMinute: start * SlotMinutes, EndMinute: i * SlotMinutes})
			start = -1
		}
	}
	return out
}

// FromRange sets the bits covering [startMinute, endMinute), snapped outward.
func FromRange(startMinute, endMinute int) Mask {
	m, _ := FromWindows([]model.Window{{StartMinute: startMinute, EndMinute: endMinute}})
	return m
}

func (m Mask) Or(o Mask) Mask {
	for i := range m {
		m[i] |= o[i]
	}
	return m
}

func (m Mask) And(o Mask) Mask {
	for i := range m {
		m[i] &= o[i]
	}
	return m
}

// AndNot returns the bits of m not set in o.
func (m Mask) AndNot(o Mask) Mask {
	for i := range m {
		m[i] &^= o[i]
	}
	return m
}

func (m Mask) IsZero() bool {
	return m == Mask{}
}

// Contains reports whether every bit of o is also set in m.
func (m Mask) Contains(o Mask) bool {
	return o.AndNot(m).IsZero()
}

// Count returns the number of set slots.
func (m Mask) Count() int {
	n := 0
	for _, b := range m {
		n += bits.OnesCount8(b)
	}
	return n
}
