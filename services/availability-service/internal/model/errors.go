package model

import (
	"errors"
	"fmt"
)

// OverlapKind tags which sides of a detected collision were already persisted.
type OverlapKind string

const (
	OverlapNewVsNew           OverlapKind = "new_vs_new"
	OverlapNewVsExisting      OverlapKind = "new_vs_existing"
	OverlapExistingVsExisting OverlapKind = "existing_vs_existing"
)

// OverlapError reports the first collision found while validating a schedule.
type OverlapError struct {
	Date string
	Kind OverlapKind
	A    Window
	B    Window
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping windows on %s (%s): %s and %s", e.Date, e.Kind, e.A, e.B)
}

// VersionConflictError is returned when a write's base version is stale.
type VersionConflictError struct {
	Supplied string
	Current  string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("week was modified concurrently (supplied version %s, current %s)", e.Supplied, e.Current)
}

// TimeDoesNotExistError reports a local wall-clock time skipped by a DST
// spring-forward transition.
type TimeDoesNotExistError struct {
	Wall string
	Zone string
}

func (e *TimeDoesNotExistError) Error() string {
	return fmt.Sprintf("time %s does not exist in %s due to a DST transition", e.Wall, e.Zone)
}

var (
	ErrZeroLengthWindow  = errors.New("window start and end are equal")
	ErrInvalidInterval   = errors.New("window end must be after start")
	ErrDuplicateBlackout = errors.New("blackout date already exists")
	ErrPastDateImmutable = errors.New("dates in the past cannot be edited")
)

// IsConflict reports whether err is a version or duplicate conflict, the class
// a caller may retry with a fresh version or treat as already-done.
func IsConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc) || errors.Is(err, ErrDuplicateBlackout)
}

// IsOverlap reports whether err is any overlap-class validation failure.
func IsOverlap(err error) bool {
	var oe *OverlapError
	return errors.As(err, &oe) || errors.Is(err, ErrZeroLengthWindow) || errors.Is(err, ErrInvalidInterval)
}
