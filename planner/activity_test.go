package planner

import "testing"

type fakeIOLink struct {
	enabled  [NumAxes]bool
	fanCalls []struct {
		extruder int
		speed    float64
	}
	enableCalls  int
	disableCalls int
}

func (f *fakeIOLink) EnableAxis(axis int) {
	f.enabled[axis] = true
	f.enableCalls++
}

func (f *fakeIOLink) DisableAxis(axis int) {
	f.enabled[axis] = false
	f.disableCalls++
}

func (f *fakeIOLink) SetFanSpeed(extruder int, speed float64) {
	f.fanCalls = append(f.fanCalls, struct {
		extruder int
		speed    float64
	}{extruder, speed})
}

func TestActivityScannerEnablesAxesWithQueuedSteps(t *testing.T) {
	r := newRing()
	*r.at(0) = Block{Steps: [NumAxes]int64{800, 0, 0, 0}}
	r.storeHead(1)

	io := &fakeIOLink{}
	a := newActivityScanner(r, io, IdlePolicy{})
	a.Scan()

	if !io.enabled[AxisX] {
		t.Error("AxisX should have been enabled: a queued block steps it")
	}
	if io.enableCalls != 1 {
		t.Errorf("enableCalls = %d, want 1", io.enableCalls)
	}
}

func TestActivityScannerIdempotent(t *testing.T) {
	r := newRing()
	*r.at(0) = Block{Steps: [NumAxes]int64{800, 0, 0, 0}}
	r.storeHead(1)

	io := &fakeIOLink{}
	a := newActivityScanner(r, io, IdlePolicy{})
	a.Scan()
	a.Scan()
	a.Scan()

	if io.enableCalls != 1 {
		t.Errorf("enableCalls = %d, want 1: repeated scans with no change must not re-issue the enable", io.enableCalls)
	}
}

func TestActivityScannerDisablesIdleAxisWhenPolicySet(t *testing.T) {
	r := newRing()
	*r.at(0) = Block{Steps: [NumAxes]int64{800, 0, 0, 0}}
	r.storeHead(1)

	io := &fakeIOLink{}
	policy := IdlePolicy{}
	policy.DisableOnIdle[AxisX] = true
	a := newActivityScanner(r, io, policy)
	a.Scan()
	if !io.enabled[AxisX] {
		t.Fatal("AxisX should be enabled while a block using it is queued")
	}

	// Drain the queue: axis X is no longer active in any queued block.
	r.storeTail(1)
	a.Scan()

	if io.enabled[AxisX] {
		t.Error("AxisX should have been disabled once idle with DisableOnIdle set")
	}
	if io.disableCalls != 1 {
		t.Errorf("disableCalls = %d, want 1", io.disableCalls)
	}
}

func TestActivityScannerLatchesFanSpeedOnChangeOnly(t *testing.T) {
	r := newRing()
	*r.at(0) = Block{Steps: [NumAxes]int64{800, 0, 0, 0}, FanSpeed: 128, ActiveExtruder: 0}
	r.storeHead(1)

	io := &fakeIOLink{}
	a := newActivityScanner(r, io, IdlePolicy{})
	a.Scan()
	a.Scan()

	if len(io.fanCalls) != 1 {
		t.Fatalf("fanCalls = %d, want 1 (latched, not reissued)", len(io.fanCalls))
	}
	if io.fanCalls[0].extruder != 0 || io.fanCalls[0].speed != 128 {
		t.Errorf("fan call = %+v, want extruder 0 speed 128", io.fanCalls[0])
	}
}

// An M107 fan-off followed by a pure-E retract (NoMove, FanSpeed 0) must
// still latch the fan off: the scan must not skip no-move/zero-fan blocks
// when picking up the most recently queued fan value.
func TestActivityScannerLatchesFanOffFromNoMoveBlock(t *testing.T) {
	r := newRing()
	*r.at(0) = Block{Steps: [NumAxes]int64{800, 0, 0, 0}, FanSpeed: 128, ActiveExtruder: 0}
	*r.at(1) = Block{NoMove: true, Retract: true, FanSpeed: 0, ActiveExtruder: 0}
	r.storeHead(2)

	io := &fakeIOLink{}
	a := newActivityScanner(r, io, IdlePolicy{})
	a.Scan()

	if len(io.fanCalls) != 1 {
		t.Fatalf("fanCalls = %d, want 1", len(io.fanCalls))
	}
	if io.fanCalls[0].extruder != 0 || io.fanCalls[0].speed != 0 {
		t.Errorf("fan call = %+v, want extruder 0 speed 0 (M107 off should win over the earlier nonzero fan block)", io.fanCalls[0])
	}
}
