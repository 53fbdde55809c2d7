package planner

import "testing"

func TestResolveTrapezoidCruise(t *testing.T) {
	b := &Block{
		StepEventCount: 800,
		NominalRate:    4000,
		NominalSpeed:   50,
		AccelerationSt: 240000,
		Millimeters:    10,
	}
	ResolveTrapezoid(b, 0.2, 0.2)

	if b.InitialRate != 800 || b.FinalRate != 800 {
		t.Fatalf("got initial=%d final=%d, want 800/800", b.InitialRate, b.FinalRate)
	}
	if b.AccelerateUntil != 32 {
		t.Fatalf("AccelerateUntil = %d, want 32", b.AccelerateUntil)
	}
	if b.DecelerateAfter != 800-32 {
		t.Fatalf("DecelerateAfter = %d, want %d", b.DecelerateAfter, 800-32)
	}
	if b.AccelerateUntil > b.DecelerateAfter || b.DecelerateAfter > b.StepEventCount {
		t.Fatalf("invariant violated: %d > %d or > %d", b.AccelerateUntil, b.DecelerateAfter, b.StepEventCount)
	}
}

func TestResolveTrapezoidTriangularCollapse(t *testing.T) {
	// A short, low-acceleration block where entry/exit can't both reach the
	// nominal rate within step_event_count: the accel and decel parabolas
	// must meet with no cruise plateau.
	b := &Block{
		StepEventCount: 100,
		NominalRate:    4000,
		NominalSpeed:   50,
		AccelerationSt: 1000,
		Millimeters:    1,
	}
	ResolveTrapezoid(b, 0.2, 0.2)

	if b.AccelerateUntil != b.DecelerateAfter {
		t.Fatalf("expected triangular collapse (AccelerateUntil == DecelerateAfter), got %d vs %d", b.AccelerateUntil, b.DecelerateAfter)
	}
	if b.AccelerateUntil < 0 || b.DecelerateAfter > b.StepEventCount {
		t.Fatalf("collapsed index out of range: %d / %d (max %d)", b.AccelerateUntil, b.DecelerateAfter, b.StepEventCount)
	}
}

func TestResolveTrapezoidClampsRates(t *testing.T) {
	b := &Block{
		StepEventCount: 50,
		NominalRate:    4000,
		NominalSpeed:   10,
		AccelerationSt: 50000,
		Millimeters:    1,
	}
	// Factors of 0.001 give a raw rate of 4 steps/s, below MinStepRate before clamping.
	ResolveTrapezoid(b, 0.001, 0.001)
	if b.InitialRate != MinStepRate {
		t.Fatalf("InitialRate = %d, want floor %d", b.InitialRate, MinStepRate)
	}
	if b.FinalRate != MinStepRate {
		t.Fatalf("FinalRate = %d, want floor %d", b.FinalRate, MinStepRate)
	}
}

func TestResolveTrapezoidSkipsBusyBlock(t *testing.T) {
	b := &Block{StepEventCount: 800, NominalRate: 4000, NominalSpeed: 50, AccelerationSt: 240000, Millimeters: 10}
	if !b.MarkBusy() {
		t.Fatal("MarkBusy should succeed on a fresh block")
	}
	ResolveTrapezoid(b, 0.5, 0.5)
	if b.InitialRate != 0 || b.AccelerateUntil != 0 {
		t.Fatalf("busy block was mutated: initial_rate=%d accelerate_until=%d", b.InitialRate, b.AccelerateUntil)
	}
}

func TestMaxAllowableSpeed(t *testing.T) {
	got := maxAllowableSpeed(3000, 10, 10)
	want := 245.15 // sqrt(100 + 2*3000*10)
	if got < want-0.5 || got > want+0.5 {
		t.Fatalf("maxAllowableSpeed = %v, want ~%v", got, want)
	}
}
