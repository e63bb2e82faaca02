package conflict

import (
	"testing"

	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/bitset"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

func win(start, end int) model.Window {
	return model.Window{StartMinute: start, EndMinute: end}
}

func TestClassifyTagsSides(t *testing.T) {
	proposed := []model.Window{win(540, 660), win(600, 720)} // overlap each other
	existing := []model.Window{win(630, 690)}                // overlaps both proposed

	overlaps, err := Classify("2025-06-02", proposed, existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := map[model.OverlapKind]int{}
	for _, o := range overlaps {
		counts[o.Kind]++
		if o.Date != "2025-06-02" {
			t.Fatalf("overlap carries wrong date %q", o.Date)
		}
	}
	if counts[model.OverlapNewVsNew] != 1 {
		t.Fatalf("expected 1 new_vs_new, got %d", counts[model.OverlapNewVsNew])
	}
	if counts[model.OverlapNewVsExisting] != 2 {
		t.Fatalf("expected 2 new_vs_existing, got %d", counts[model.OverlapNewVsExisting])
	}
}

func TestClassifyExistingVsExisting(t *testing.T) {
	existing := []model.Window{win(540, 660), win(600, 720)}
	overlaps, err := Classify("2025-06-02", nil, existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overlaps) != 1 || overlaps[0].Kind != model.OverlapExistingVsExisting {
		t.Fatalf("expected one existing_vs_existing overlap, got %v", overlaps)
	}
}

func TestClassifyDisjoint(t *testing.T) {
	overlaps, err := Classify("2025-06-02",
		[]model.Window{win(540, 600)},
		[]model.Window{win(600, 660)}) // adjacent, half-open: no overlap
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(overlaps) != 0 {
		t.Fatalf("expected no overlaps, got %v", overlaps)
	}
}

func TestFitsAvailability(t *testing.T) {
	day := bitset.FromRange(540, 1020) // 09:00-17:00

	if !FitsAvailability(day, win(600, 660)) {
		t.Fatal("10:00-11:00 should fit inside 09:00-17:00")
	}
	if FitsAvailability(day, win(1000, 1080)) {
		t.Fatal("a window crossing the end of availability should not fit")
	}
	if FitsAvailability(day, win(600, 600)) {
		t.Fatal("a zero-length window never fits")
	}
}
