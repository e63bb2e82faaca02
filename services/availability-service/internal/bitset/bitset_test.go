package bitset

import (
	"errors"
	"testing"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

func win(start, end int) model.Window {
	return model.Window{StartMinute: start, EndMinute: end}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]model.Window{
		nil,
		{win(540, 720)},                              // 09:00-12:00
		{win(540, 720), win(840, 1020)},              // two disjoint blocks
		{win(0, 5)},                                  // first slot only
		{win(1435, 1440)},                            // last slot only
		{win(0, 1440)},                               // full day
		{win(0, 60), win(60, 120), win(1380, 1440)},  // adjacent windows merge
	}

	for _, ws := range cases {
		m, err := FromWindows(ws)
		if err != nil {
			t.Fatalf("FromWindows(%v): %v", ws, err)
		}
		got := m.Windows()

		// Adjacent input windows merge into one; compare against the merged form.
		want := mergeAdjacent(ws)
		if len(got) != len(want) {
			t.Fatalf("round trip of %v: got %v", ws, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("round trip of %v: window %d = %v, want %v", ws, i, got[i], want[i])
			}
		}
	}
}

func mergeAdjacent(ws []model.Window) []model.Window {
	var out []model.Window
	for _, w := range ws {
		if n := len(out); n > 0 && out[n-1].EndMinute == w.StartMinute {
			out[n-1].EndMinute = w.EndMinute
			continue
		}
		out = append(out, w)
	}
	return out
}

func TestFromWindowsRejectsOverlap(t *testing.T) {
	_, err := FromWindows([]model.Window{win(540, 660), win(600, 720)})
	var oe *model.OverlapError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if oe.Kind != model.OverlapNewVsNew {
		t.Fatalf("expected new_vs_new, got %s", oe.Kind)
	}
}

func TestFromWindowsRejectsDegenerate(t *testing.T) {
	_, err := FromWindows([]model.Window{win(600, 600)})
	if !errors.Is(err, model.ErrZeroLengthWindow) {
		t.Fatalf("expected ErrZeroLengthWindow, got %v", err)
	}
}

func TestFromWindowsRejectsInverted(t *testing.T) {
	_, err := FromWindows([]model.Window{win(720, 540)})
	if !errors.Is(err, model.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestFromBytesLengthCheck(t *testing.T) {
	if _, err := FromBytes(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short bitmask")
	}
	m, err := FromBytes(nil)
	if err != nil {
		t.Fatalf("nil bitmask: %v", err)
	}
	if !m.IsZero() {
		t.Fatal("nil bitmask should decode to an all-clear day")
	}
}

func TestContainsAndCount(t *testing.T) {
	day := FromRange(540, 1020)
	booked := FromRange(600, 660)
	if !day.Contains(booked) {
		t.Fatal("09:00-17:00 should contain 10:00-11:00")
	}
	if day.Contains(FromRange(1080, 1140)) {
		t.Fatal("09:00-17:00 should not contain 18:00-19:00")
	}
	if got := booked.Count(); got != 12 {
		t.Fatalf("expected 12 slots in one hour, got %d", got)
	}
}

func TestSnapOutward(t *testing.T) {
	// 09:02-09:08 covers slots [540,545) through [545,550).
	m := FromRange(542, 548)
	got := m.Windows()
	if len(got) != 1 || got[0] != win(540, 550) {
		t.Fatalf("expected snapped window 09:00-09:10, got %v", got)
	}
}
