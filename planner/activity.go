package planner

// IOLink is the minimal external-IO surface the axis-activity scan drives:
// per-axis enable/disable and a fan PWM write. mcuio.Link implements this
// over a framed serial connection (or logs only, when no serial device is
// configured).
type IOLink interface {
	EnableAxis(axis int)
	DisableAxis(axis int)
	SetFanSpeed(extruder int, speed float64)
}

// IdlePolicy controls which axes are disabled when no queued block moves
// them, mirroring the DISABLE_X/Y/Z/E compile-time flags in planner.cpp.
type IdlePolicy struct {
	DisableOnIdle [NumAxes]bool
}

// activityScanner implements CheckAxesActivity (SPEC_FULL.md 4.4): a
// read-only scan of the current queue that disables idle axes and latches
// each extruder's fan speed to the most recently queued value.
type activityScanner struct {
	ring   *ring
	io     IOLink
	policy IdlePolicy

	lastFanSpeed [16]float64 // indexed by extruder; 16 is a generous static cap, not BlockBufferSize
	fanLatched   [16]bool    // whether lastFanSpeed[extruder] has been written out yet
	enabled      [NumAxes]bool
}

func newActivityScanner(r *ring, io IOLink, policy IdlePolicy) *activityScanner {
	return &activityScanner{ring: r, io: io, policy: policy}
}

// Scan runs the activity check. It is idempotent: calling it twice with no
// intervening enqueue produces identical enable/fan output both times (I7),
// since it only ever reads the queue and the last-seen fan value.
func (a *activityScanner) Scan() {
	var axisActive [NumAxes]bool
	fanSeen := map[int]float64{}

	a.ring.forEach(func(_ uint32, b *Block) {
		for i := 0; i < NumAxes; i++ {
			if b.Steps[i] != 0 {
				axisActive[i] = true
			}
		}
		// Every queued block carries its extruder's fan value at build time
		// (including no-move/fan-off blocks, e.g. an M107 immediately before
		// a retract), so recording unconditionally and iterating tail-to-
		// head leaves the most recently queued value per extruder standing.
		fanSeen[b.ActiveExtruder] = b.FanSpeed
	})

	for i := 0; i < NumAxes; i++ {
		if axisActive[i] {
			if !a.enabled[i] {
				a.io.EnableAxis(i)
				a.enabled[i] = true
			}
			continue
		}
		if a.policy.DisableOnIdle[i] && a.enabled[i] {
			a.io.DisableAxis(i)
			a.enabled[i] = false
		}
	}

	for extruder, speed := range fanSeen {
		if extruder < 0 || extruder >= len(a.lastFanSpeed) {
			continue
		}
		if !a.fanLatched[extruder] || a.lastFanSpeed[extruder] != speed {
			a.io.SetFanSpeed(extruder, speed)
			a.lastFanSpeed[extruder] = speed
			a.fanLatched[extruder] = true
		}
	}
}
