package detector

import (
	"testing"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

func runStall(d StallDetector, sizes []int64) ([]Transition, ChannelState) {
	s := NewChannelState()
	out := make([]Transition, len(sizes))
	for i, size := range sizes {
		s, out[i] = d.Step(s, size)
	}
	return out, s
}

func TestStallDetector_PlateauThenResume(t *testing.T) {
	d := StallDetector{StallThreshold: 2, ResumeThreshold: 2}
	got, final := runStall(d, []int64{10, 20, 20, 20, 20, 30, 40, 40})

	want := map[int]Transition{3: EnteredStall, 6: Resumed}
	for i, tr := range got {
		if tr != want[i] {
			t.Errorf("tick %d: transition = %v, want %v", i, tr, want[i])
		}
	}
	if final.Phase != Growing {
		t.Errorf("final phase = %v, want growing", final.Phase)
	}
	if final.StallRun != 1 {
		t.Errorf("final stall run = %d, want 1", final.StallRun)
	}
}

func TestStallDetector_SingleGrowthDoesNotResume(t *testing.T) {
	d := StallDetector{StallThreshold: 2, ResumeThreshold: 2}
	got, final := runStall(d, []int64{5, 10, 10, 10, 11, 11, 11, 11})

	entered := 0
	for i, tr := range got {
		if tr == Resumed {
			t.Fatalf("tick %d: resumed on a single growth reading", i)
		}
		if tr == EnteredStall {
			entered++
		}
	}
	if entered != 1 {
		t.Errorf("entered stall %d times, want exactly once", entered)
	}
	if final.Phase != Stalled {
		t.Errorf("final phase = %v, want stalled", final.Phase)
	}
}

func TestStallDetector_EntersExactlyOnceOnLongPlateau(t *testing.T) {
	d := StallDetector{StallThreshold: 3, ResumeThreshold: 1}
	sizes := []int64{1, 2, 3, 3, 3, 3, 3, 3, 3, 3}
	got, _ := runStall(d, sizes)

	for i, tr := range got {
		wantEnter := i == 5
		if (tr == EnteredStall) != wantEnter {
			t.Errorf("tick %d: transition = %v", i, tr)
		}
	}
}

func TestStallDetector_UnknownCarriesPrevSize(t *testing.T) {
	d := StallDetector{StallThreshold: 2, ResumeThreshold: 2}
	s := NewChannelState()
	s, _ = d.Step(s, 100)
	s, _ = d.Step(s, models.Unknown)

	if s.PrevSize != 100 {
		t.Fatalf("PrevSize = %d after unknown read, want 100", s.PrevSize)
	}
	if s.GrowthRun != 0 {
		t.Errorf("GrowthRun = %d after unknown read, want 0", s.GrowthRun)
	}

	// An unknown read between two equal sizes still lets the plateau count.
	s, _ = d.Step(s, 100)
	s, tr := d.Step(s, 100)
	if tr != EnteredStall {
		t.Errorf("transition = %v, want entered_stall", tr)
	}
}

func TestStallDetector_UnknownBreaksResume(t *testing.T) {
	d := StallDetector{StallThreshold: 1, ResumeThreshold: 2}
	s := NewChannelState()
	for _, size := range []int64{10, 10} {
		s, _ = d.Step(s, size)
	}
	if s.Phase != Stalled {
		t.Fatalf("phase = %v, want stalled", s.Phase)
	}

	s, _ = d.Step(s, 11)
	s, _ = d.Step(s, models.Unknown)
	s, tr := d.Step(s, 12)
	if tr == Resumed || s.Phase != Stalled {
		t.Fatalf("resumed across an unknown reading")
	}
	_, tr = d.Step(s, 13)
	if tr != Resumed {
		t.Errorf("transition = %v, want resumed", tr)
	}
}

func TestStallDetector_ShrinkResetsBaseline(t *testing.T) {
	d := StallDetector{StallThreshold: 2, ResumeThreshold: 2}
	s := NewChannelState()
	for _, size := range []int64{50, 50} {
		s, _ = d.Step(s, size)
	}
	s, _ = d.Step(s, 10)
	if s.StallRun != 0 || s.GrowthRun != 0 || s.PrevSize != 10 {
		t.Errorf("after shrink state = %+v", s)
	}
}

func TestStallDetector_AllUnknownNeverStalls(t *testing.T) {
	d := StallDetector{StallThreshold: 1, ResumeThreshold: 1}
	got, final := runStall(d, []int64{-1, -1, -1, -1})
	for i, tr := range got {
		if tr != None {
			t.Errorf("tick %d: transition = %v, want none", i, tr)
		}
	}
	if final.Phase != Growing {
		t.Errorf("phase = %v, want growing", final.Phase)
	}
}

func TestHaltDetector_LatchesOnFourthRepeat(t *testing.T) {
	d := HaltDetector{Threshold: 4}
	s := NewHaltState()
	sizes := []int64{100, 200, 200, 200, 200, 200}
	latchedAt := -1
	for i, size := range sizes {
		var latched bool
		s, latched = d.Step(s, size)
		if latched {
			if latchedAt != -1 {
				t.Fatalf("latched twice (ticks %d and %d)", latchedAt, i)
			}
			latchedAt = i
		}
	}
	if latchedAt != 5 {
		t.Errorf("latched at tick %d, want 5", latchedAt)
	}
}

func TestHaltDetector_LatchIsMonotonic(t *testing.T) {
	d := HaltDetector{Threshold: 2}
	s := NewHaltState()
	for _, size := range []int64{7, 7, 7} {
		s, _ = d.Step(s, size)
	}
	if !s.Halted {
		t.Fatal("expected latch")
	}
	for _, size := range []int64{8, 9, models.Unknown, 10} {
		var latched bool
		s, latched = d.Step(s, size)
		if latched || !s.Halted {
			t.Fatalf("latch changed on input %d", size)
		}
	}
}

func TestHaltDetector_UnknownResetsSteadyRun(t *testing.T) {
	d := HaltDetector{Threshold: 3}
	s := NewHaltState()
	for _, size := range []int64{5, 5, 5, models.Unknown, 5, 5} {
		s, _ = d.Step(s, size)
	}
	if s.Halted {
		t.Fatal("latched across an unknown reading")
	}
	if s.SteadyRun != 2 {
		t.Errorf("SteadyRun = %d, want 2", s.SteadyRun)
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{Growing, "growing"},
		{Stalled, "stalled"},
		{Phase(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
