// Package timespan provides the half-open booking window [from, until)
// used throughout the reservation engine, interval-overlap math, and the
// booking timespan validator applied before a window is bound to a
// purchase attempt.
//
// A nil From means "from the beginning of time"; a nil Until means
// "forever". Cart-level window storage is exempt from validation — the
// strict checks apply only at booking points (see cart.SetTimespan).
package timespan

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidTimespan is the base error for all validator failures.
	ErrInvalidTimespan = errors.New("timespan: invalid timespan")
)

// InvalidTimespanError reports why a requested window was rejected.
// The Reason is user-correctable and surfaced verbatim.
type InvalidTimespanError struct {
	Reason string
}

func (e *InvalidTimespanError) Error() string {
	return fmt.Sprintf("timespan: %s", e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidTimespan) work for all reasons.
func (e *InvalidTimespanError) Unwrap() error { return ErrInvalidTimespan }

// Timespan is a half-open interval [From, Until). Either bound may be nil:
// nil From is unbounded in the past, nil Until is unbounded in the future.
type Timespan struct {
	From  *time.Time `json:"from,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// New builds a bounded timespan.
func New(from, until time.Time) Timespan {
	return Timespan{From: &from, Until: &until}
}

// Contains reports whether the instant t falls inside the window.
func (ts Timespan) Contains(t time.Time) bool {
	if ts.From != nil && t.Before(*ts.From) {
		return false
	}
	if ts.Until != nil && !t.Before(*ts.Until) {
		return false
	}
	return true
}

// Overlaps reports whether two half-open windows intersect:
// from < other.until AND (until is nil OR until > other.from).
// Nil bounds extend the window infinitely in that direction, so a
// permanent window overlaps every window starting at or after its From.
func (ts Timespan) Overlaps(other Timespan) bool {
	if ts.From != nil && other.Until != nil && !ts.From.Before(*other.Until) {
		return false
	}
	if ts.Until != nil && other.From != nil && !ts.Until.After(*other.From) {
		return false
	}
	return true
}

// Expired reports whether the window ended at or before now.
// Unbounded windows never expire.
func (ts Timespan) Expired(now time.Time) bool {
	return ts.Until != nil && !ts.Until.After(now)
}

// Equal reports whether two windows have identical bounds, treating nil
// bounds as distinct from any concrete instant. Used as part of the cart
// entry merge key.
func (ts Timespan) Equal(other Timespan) bool {
	return equalBound(ts.From, other.From) && equalBound(ts.Until, other.Until)
}

func equalBound(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// String renders the window for logs and error messages.
func (ts Timespan) String() string {
	from, until := "-inf", "+inf"
	if ts.From != nil {
		from = ts.From.Format(time.RFC3339)
	}
	if ts.Until != nil {
		until = ts.Until.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", from, until)
}

// BillableUnits converts the window duration to whole billing units
// (days), rounding up, with a minimum of one unit. A window shorter than
// one full day — or an unbounded window, which carries no duration — is
// billed as a single unit. This is the engine's single rounding rule;
// fractional-day billing is deliberately not supported.
func (ts Timespan) BillableUnits() int64 {
	if ts.From == nil || ts.Until == nil {
		return 1
	}
	units := int64(math.Ceil(ts.Until.Sub(*ts.From).Hours() / 24))
	if units < 1 {
		units = 1
	}
	return units
}

// Validate enforces temporal sanity of a requested window at a booking
// point, evaluated against the explicit reference instant now:
//
//   - both bounds must be provided together
//   - from must be strictly before until
//   - from must not be in the past (equal to now is accepted)
//
// Cart-level window storage bypasses this on purpose; only the moment a
// window is bound to a specific purchase attempt is strict.
func Validate(from, until *time.Time, now time.Time) error {
	if from == nil && until == nil {
		return nil
	}
	if from == nil || until == nil {
		return &InvalidTimespanError{Reason: "both dates must be provided together"}
	}
	if !from.Before(*until) {
		return &InvalidTimespanError{Reason: "from must be before until"}
	}
	if from.Before(now) {
		return &InvalidTimespanError{Reason: "from is in the past"}
	}
	return nil
}
