// Package conflict classifies collisions between a proposed schedule, the
// availability already persisted for the same dates, and live bookings.
package conflict

import (
	"fmt"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

type side int

const (
	sideNew side = iota
	sideExisting
)

type taggedWindow struct {
	win model.Window
	src side
}

// Classify returns every overlapping pair among the proposed and existing
// windows of one date, each tagged with which sides were new. A pair the
// checker cannot classify is a hard error; an overlap is never silently
// passed through.
func Classify(date string, proposed, existing []model.Window) ([]*model.OverlapError, error) {
	all := make([]taggedWindow, 0, len(proposed)+len(existing))
	for _, w := range proposed {
		all = append(all, taggedWindow{win: w, src: sideNew})
	}
	for _, w := range existing {
		all = append(all, taggedWindow{win: w, src: sideExisting})
	}

	var out []*model.OverlapError
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if !all[i].win.Overlaps(all[j].win) {
				continue
			}
			kind, err := classifyPair(all[i].src, all[j].src)
			if err != nil {
				return nil, err
			}
			out = append(out, &model.OverlapError{
				Date: date,
				Kind: kind,
				A:    all[i].win,
				B:    all[j].win,
			})
		}
	}
	return out, nil
}

func classifyPair(a, b side) (model.OverlapKind, error) {
	switch {
	case a == sideNew && b == sideNew:
		return model.OverlapNewVsNew, nil
	case a == sideExisting && b == sideExisting:
		return model.OverlapExistingVsExisting, nil
	case a == sideNew || b == sideNew:
		return model.OverlapNewVsExisting, nil
	default:
		return "", fmt.Errorf("unclassifiable overlap between sides %d and %d", a, b)
	}
}

// FitsAvailability reports whether a booking's proposed window lies entirely
// within the bookable bits of the day mask.
func FitsAvailability(mask bitset.Mask, w model.Window) bool {
	if w.EndMinute <= w.StartMinute {
		return false
	}
	return mask.Contains(bitset.FromRange(w.StartMinute, w.EndMinute))
}
