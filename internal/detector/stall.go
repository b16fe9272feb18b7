// Package detector implements the two pure state machines that interpret the
// unit's log sizes: StallDetector classifies the receive log into growing and
// stalled phases with hysteresis, HaltDetector latches once the transmit log
// stops changing for good.
//
// Both detectors are stateless values. Callers own the state structs and pass
// them through Step once per tick, which keeps the machines trivially testable
// against synthetic size sequences.
package detector

import "github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"

// Phase is the coverage phase derived from the receive log.
type Phase int

const (
	// Growing means the receive log is advancing: the unit is in coverage.
	Growing Phase = iota
	// Stalled means the receive log has plateaued: the unit left coverage.
	Stalled
)

func (p Phase) String() string {
	switch p {
	case Growing:
		return "growing"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Transition reports a phase change produced by a single Step.
type Transition int

const (
	None Transition = iota
	EnteredStall
	Resumed
)

func (t Transition) String() string {
	switch t {
	case EnteredStall:
		return "entered_stall"
	case Resumed:
		return "resumed"
	default:
		return "none"
	}
}

// ChannelState is the per-channel state carried between ticks.
type ChannelState struct {
	Phase     Phase
	StallRun  int
	GrowthRun int
	PrevSize  int64
}

// NewChannelState returns the initial state: growing, no history.
func NewChannelState() ChannelState {
	return ChannelState{Phase: Growing, PrevSize: models.Unknown}
}

// StallDetector holds the thresholds for stall entry and resume.
type StallDetector struct {
	// StallThreshold is the number of consecutive unchanged readings that
	// declares a stall.
	StallThreshold int
	// ResumeThreshold is the number of consecutive growing readings needed
	// to leave a stall.
	ResumeThreshold int
}

// Step folds one receive-log size into s and returns the new state together
// with the transition it caused, if any.
//
// Each reading is classified exactly once:
//   - unknown: no information; the growth run is broken, the stall run and
//     the previous size are left untouched
//   - grew (known and above the previous size): growth run +1, stall run reset
//   - unchanged (known and equal to a known previous size): stall run +1,
//     growth run reset
//   - shrank (log rotated or truncated): both runs reset, new baseline
//
// Phase changes are evaluated after the counters are updated.
func (d StallDetector) Step(s ChannelState, size int64) (ChannelState, Transition) {
	switch {
	case !models.Known(size):
		s.GrowthRun = 0
	case size > s.PrevSize:
		s.GrowthRun++
		s.StallRun = 0
		s.PrevSize = size
	case size == s.PrevSize:
		s.StallRun++
		s.GrowthRun = 0
	default:
		s.StallRun = 0
		s.GrowthRun = 0
		s.PrevSize = size
	}

	switch s.Phase {
	case Growing:
		if s.StallRun >= d.StallThreshold {
			s.Phase = Stalled
			return s, EnteredStall
		}
	case Stalled:
		if s.GrowthRun >= d.ResumeThreshold {
			s.Phase = Growing
			return s, Resumed
		}
	}
	return s, None
}
