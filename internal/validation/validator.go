// Package validation implements the multi-frame confirmation state machine.
//
// A detection is only confirmed once it has qualified on a number of
// consecutive frames. A single non-qualifying frame drops the run.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/clearcity/ai-sentinel/internal/detector"
)

// DefaultRequiredFrames is the consecutive-frame count needed to confirm.
const DefaultRequiredFrames = 3

// State of the validator.
type State int

const (
	Idle State = iota
	Validating
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Confirmation is emitted once per qualifying run that reaches the
// required frame count.
type Confirmation struct {
	Count      int
	Confidence float64
	At         time.Time
}

// Snapshot is a copy of the validator state.
type Snapshot struct {
	State     State
	Count     int
	Required  int
	Confirmed bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithOnConfirm registers a callback invoked on each confirmation.
func WithOnConfirm(fn func(Confirmation)) Option {
	return func(v *Validator) { v.onConfirm = fn }
}

// WithLabel sets the text shown in the confirmed overlay.
func WithLabel(label string) Option {
	return func(v *Validator) {
		if label != "" {
			v.label = label
		}
	}
}

// WithClock overrides time.Now for confirmation timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator tracks consecutive qualifying frames. It is not safe for
// concurrent use; the owner serialises calls.
type Validator struct {
	required  int
	count     int
	confirmed bool

	label     string
	onConfirm func(Confirmation)
	now       func() time.Time
}

// New creates a validator. requiredFrames below 1 is treated as 1.
func New(requiredFrames int, opts ...Option) *Validator {
	if requiredFrames < 1 {
		requiredFrames = 1
	}
	v := &Validator{
		required: requiredFrames,
		label:    "GARBAGE",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Step advances the machine by one frame and reports whether this frame
// produced a confirmation.
func (v *Validator) Step(qualifying bool, maxConfidence float64) (State, bool) {
	if !qualifying {
		v.count = 0
		v.confirmed = false
		return Idle, false
	}

	if v.count < math.MaxInt {
		v.count++
	}

	if v.confirmed {
		return Confirmed, false
	}
	if v.count < v.required {
		return Validating, false
	}

	v.confirmed = true
	if v.onConfirm != nil {
		v.onConfirm(Confirmation{
			Count:      v.count,
			Confidence: maxConfidence,
			At:         v.now(),
		})
	}
	return Confirmed, true
}

// Reset returns the machine to Idle.
func (v *Validator) Reset() {
	v.count = 0
	v.confirmed = false
}

// State returns the current state.
func (v *Validator) State() State {
	switch {
	case v.confirmed:
		return Confirmed
	case v.count > 0:
		return Validating
	default:
		return Idle
	}
}

// Count returns the current run length.
func (v *Validator) Count() int { return v.count }

// Required returns the confirmation threshold in frames.
func (v *Validator) Required() int { return v.required }

// Snapshot returns a copy of the current state.
func (v *Validator) Snapshot() Snapshot {
	return Snapshot{
		State:     v.State(),
		Count:     v.count,
		Required:  v.required,
		Confirmed: v.confirmed,
	}
}

// Overlay returns the status text for the current state, or "" when idle.
func (v *Validator) Overlay() string {
	switch v.State() {
	case Validating:
		return fmt.Sprintf("VALIDATING: %d/%d", v.count, v.required)
	case Confirmed:
		return "CONFIRMED " + v.label
	default:
		return ""
	}
}

// Qualify reports whether any detection is strictly above threshold and
// returns the highest such confidence. NaN confidences never qualify.
func Qualify(dets []detector.Detection, threshold float64) (bool, float64) {
	var (
		ok   bool
		best float64
	)
	for _, d := range dets {
		c := d.Confidence
		if math.IsNaN(c) || !(c > threshold) {
			continue
		}
		if !ok || c > best {
			best = c
		}
		ok = true
	}
	return ok, best
}
