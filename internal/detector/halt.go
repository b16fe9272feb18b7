package detector

import "github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"

// HaltState tracks how long the transmit log has been steady.
// Halted is a one-shot latch: once set it never clears.
type HaltState struct {
	SteadyRun int
	PrevSize  int64
	Halted    bool
}

// NewHaltState returns the initial, unlatched state.
func NewHaltState() HaltState {
	return HaltState{PrevSize: models.Unknown}
}

// HaltDetector latches when the transmit log stays the same size for
// Threshold consecutive readings.
type HaltDetector struct {
	Threshold int
}

// Step folds one transmit-log size into s. The returned bool is true only on
// the tick where the latch is set.
//
// The check runs regardless of the receive phase, so a unit that stops
// logging without ever leaving coverage is still detected.
func (d HaltDetector) Step(s HaltState, size int64) (HaltState, bool) {
	if s.Halted {
		return s, false
	}

	if models.Known(size) && size == s.PrevSize {
		s.SteadyRun++
	} else {
		s.SteadyRun = 0
	}
	if models.Known(size) {
		s.PrevSize = size
	}

	if s.SteadyRun >= d.Threshold {
		s.Halted = true
		return s, true
	}
	return s, false
}
