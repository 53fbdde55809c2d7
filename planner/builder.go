package planner

import (
	"math"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Collaborators groups the external ticks the backpressure wait must keep
// alive while the queue is full, standing in for the heater, inactivity and
// display collaborators named in SPEC_FULL.md 4.1 step 1 and 5 (concurrency
// model). Each is optional; a nil field is simply not called.
type Collaborators struct {
	ManageHeater     func()
	ManageInactivity func()
	UpdateDisplay    func()
	PollInterval     time.Duration
}

func (c *Collaborators) tick() {
	if c == nil {
		return
	}
	if c.ManageHeater != nil {
		c.ManageHeater()
	}
	if c.ManageInactivity != nil {
		c.ManageInactivity()
	}
	if c.UpdateDisplay != nil {
		c.UpdateDisplay()
	}
}

func (c *Collaborators) pollInterval() time.Duration {
	if c == nil || c.PollInterval <= 0 {
		return time.Duration(defaultPollDelay) * time.Microsecond
	}
	return c.PollInterval
}

// Builder implements BuildLine, the block construction half of the planner
// (SPEC_FULL.md 4.1). The ring buffer, the position register and the
// configuration it builds against all live on the owning Planner; the only
// state it keeps itself is the last extruder and its E steps-per-unit (for
// the tool-change rescale) and the per-extruder fan speeds.
type Builder struct {
	cfg  *Config
	pos  *positionState
	ring *ring

	collaborators *Collaborators

	lastExtruder        int
	lastStepsPerUnitE   float64
	haveLastStepsPerUnit bool

	fanSpeed [MaxExtruders]float64

	onBlockBuilt func(*Block)
	onWait       func()
}

// SetFanSpeed records the requested PWM fraction (0..1) for extruder, to be
// stamped onto every block built from here on, mirroring planner.cpp's
// fanSpeed[] global that plan_buffer_line copies into block->fan_speed.
func (bd *Builder) SetFanSpeed(extruder int, speed float64) {
	extruder = clampExtruder(extruder)
	bd.fanSpeed[extruder] = speed
}

func newBuilder(cfg *Config, pos *positionState, r *ring, collaborators *Collaborators) *Builder {
	return &Builder{cfg: cfg, pos: pos, ring: r, collaborators: collaborators}
}

// BuildLine enqueues one line segment: target Cartesian position in mm,
// extruder position in mm, requested feed rate in mm/s, and the active
// extruder index. It silently drops the move if it resolves to at most
// DropSegments master-axis steps. Blocks (cooperatively) if the ring buffer
// is full.
func (bd *Builder) BuildLine(x, y, z, e, feedRate float64, extruder int) {
	bd.waitForRoom()

	snap := bd.cfg.snapshot()

	bd.pos.mu.Lock()
	defer bd.pos.mu.Unlock()

	// Step 2: quantize target, rescaling position[E] on an extruder steps-
	// per-unit change so physical filament position is preserved.
	stepsPerUnitE := snap.ExtruderStepsPerUnit[clampExtruder(extruder)]
	if bd.haveLastStepsPerUnit && bd.lastExtruder != extruder && bd.lastStepsPerUnitE != stepsPerUnitE {
		bd.pos.rescaleExtruder(bd.lastStepsPerUnitE, stepsPerUnitE)
	}
	bd.lastExtruder = extruder
	bd.lastStepsPerUnitE = stepsPerUnitE
	bd.haveLastStepsPerUnit = true
	bd.pos.activeExtruder = extruder

	targetSteps := [NumAxes]int64{
		round(x * snap.AxisStepsPerUnit[AxisX]),
		round(y * snap.AxisStepsPerUnit[AxisY]),
		round(z * snap.AxisStepsPerUnit[AxisZ]),
		round(e * stepsPerUnitE),
	}

	var deltaSteps [NumAxes]int64
	for i := 0; i < NumAxes; i++ {
		deltaSteps[i] = targetSteps[i] - bd.pos.position[i]
	}

	var dirBits uint8
	for i := 0; i < NumAxes; i++ {
		if deltaSteps[i] < 0 {
			dirBits |= 1 << uint(i)
		}
	}

	extrudeSteps := int64(math.Abs(float64(deltaSteps[AxisE])) * snap.ExtrudeMultiplier / 100)
	stepEventCount := absI64(deltaSteps[AxisX])
	if v := absI64(deltaSteps[AxisY]); v > stepEventCount {
		stepEventCount = v
	}
	if v := absI64(deltaSteps[AxisZ]); v > stepEventCount {
		stepEventCount = v
	}
	if extrudeSteps > stepEventCount {
		stepEventCount = extrudeSteps
	}

	if stepEventCount <= DropSegments {
		return
	}

	noMove := absI64(deltaSteps[AxisX]) <= DropSegments &&
		absI64(deltaSteps[AxisY]) <= DropSegments &&
		absI64(deltaSteps[AxisZ]) <= DropSegments

	deltaEMM := float64(deltaSteps[AxisE]) / stepsPerUnitE

	var millimeters float64
	if noMove {
		millimeters = math.Abs(deltaEMM)
	} else {
		dxmm := float64(deltaSteps[AxisX]) / snap.AxisStepsPerUnit[AxisX]
		dymm := float64(deltaSteps[AxisY]) / snap.AxisStepsPerUnit[AxisY]
		dzmm := float64(deltaSteps[AxisZ]) / snap.AxisStepsPerUnit[AxisZ]
		millimeters = math.Sqrt(dxmm*dxmm + dymm*dymm + dzmm*dzmm)
	}
	if millimeters < 1e-9 {
		millimeters = math.Abs(deltaEMM)
	}
	if millimeters < 1e-9 {
		return
	}

	if noMove {
		if feedRate < snap.MinTravelFeedrate {
			feedRate = snap.MinTravelFeedrate
		}
	} else {
		if feedRate < snap.MinimumFeedrate {
			feedRate = snap.MinimumFeedrate
		}
	}

	inverseMillimeters := 1.0 / millimeters
	var inverseSecond float64
	if feedRate > 0 {
		inverseSecond = feedRate * inverseMillimeters
	}

	// Slowdown heuristic (step 8): stretch segment time to keep the pipe
	// full when a printing move would otherwise starve the stepper.
	isPrintingMove := !noMove && deltaSteps[AxisE] != 0 && deltaSteps[AxisZ] == 0
	depth := bd.ring.depth()
	if isPrintingMove && depth >= 2 && depth < BlockBufferSize/2 && inverseSecond > 0 {
		segmentTimeUS := 1e6 / inverseSecond
		if segmentTimeUS < snap.MinSegmentTime && depth > 0 {
			segmentTimeUS += 2 * (snap.MinSegmentTime - segmentTimeUS) / float64(depth)
			inverseSecond = 1e6 / segmentTimeUS
		}
	}

	nominalSpeed := inverseSecond * millimeters
	nominalRate := int64(math.Ceil(float64(stepEventCount) * inverseSecond))

	// Step 7: per-axis feed clamp, reducing nominal speed/rate by a common
	// speed factor so no axis exceeds its configured max feedrate.
	speedFactor := 1.0
	for i := 0; i < NumAxes; i++ {
		if deltaSteps[i] == 0 {
			continue
		}
		axisStepsPerUnit := snap.AxisStepsPerUnit[i]
		if i == AxisE {
			axisStepsPerUnit = stepsPerUnitE
		}
		vAxis := math.Abs(float64(deltaSteps[i])) / axisStepsPerUnit * inverseSecond
		if vAxis > snap.MaxFeedrate[i] && vAxis > 0 {
			f := snap.MaxFeedrate[i] / vAxis
			if f < speedFactor {
				speedFactor = f
			}
		}
	}
	if speedFactor < 1.0 {
		nominalSpeed *= speedFactor
		nominalRate = int64(math.Ceil(float64(nominalRate) * speedFactor))
	}
	if nominalRate < MinStepRate {
		nominalRate = MinStepRate
	}

	// Step 9: global acceleration, then per-axis acceleration cap.
	extruderIdx := clampExtruder(extruder)
	accelMMSS := snap.Acceleration
	if noMove {
		accelMMSS = snap.RetractAcceleration[extruderIdx]
	}
	stepsPerMM := float64(stepEventCount) / millimeters
	accelerationSt := accelMMSS * stepsPerMM
	for i := 0; i < NumAxes; i++ {
		if deltaSteps[i] == 0 {
			continue
		}
		limit := snap.MaxAccelerationUnitsPerSqSecond[i] * axisStepsPerUnitFor(snap, i, stepsPerUnitE)
		capped := limit * float64(stepEventCount) / float64(absI64(deltaSteps[i]))
		if capped < accelerationSt {
			accelerationSt = capped
		}
	}

	// Step 10: jerk-based junction velocity.
	var vCur [NumAxes]float64
	vCur[AxisX] = float64(deltaSteps[AxisX]) / snap.AxisStepsPerUnit[AxisX] * inverseSecond
	vCur[AxisY] = float64(deltaSteps[AxisY]) / snap.AxisStepsPerUnit[AxisY] * inverseSecond
	vCur[AxisZ] = float64(deltaSteps[AxisZ]) / snap.AxisStepsPerUnit[AxisZ] * inverseSecond
	vCur[AxisE] = deltaEMM * inverseSecond

	maxEJerk := snap.MaxEJerk[extruderIdx]

	var vJunction, entrySpeed float64
	var nominalLength bool

	if noMove {
		// A pure-E move skips the XY/Z jerk geometry entirely: entry, max
		// entry and safe speed all collapse to the E-jerk/nominal-speed
		// floor. Grounded on planner.cpp's no_move branch.
		vJunction = minF(maxEJerk, nominalSpeed)
		entrySpeed = vJunction
	} else {
		vJunction = snap.MaxXYJerk / 2
		if math.Abs(vCur[AxisZ]) > snap.MaxZJerk/2 {
			vJunction = minF(vJunction, snap.MaxZJerk/2)
		}
		if math.Abs(vCur[AxisE]) > maxEJerk/2 {
			vJunction = minF(vJunction, maxEJerk/2)
		}
		if vJunction > nominalSpeed {
			vJunction = nominalSpeed
		}

		if bd.pos.previousNominalSpeed > 1e-9 && bd.ring.depth() >= 1 {
			jerkXY := math.Hypot(vCur[AxisX]-bd.pos.previousSpeed[AxisX], vCur[AxisY]-bd.pos.previousSpeed[AxisY])
			scale := 1.0
			if jerkXY > snap.MaxXYJerk && jerkXY > 0 {
				scale = snap.MaxXYJerk / jerkXY
			}
			jerkZ := math.Abs(vCur[AxisZ] - bd.pos.previousSpeed[AxisZ])
			if jerkZ > snap.MaxZJerk && jerkZ > 0 {
				scale = minF(scale, snap.MaxZJerk/jerkZ)
			}
			jerkE := math.Abs(vCur[AxisE] - bd.pos.previousSpeed[AxisE])
			if jerkE > maxEJerk && jerkE > 0 {
				scale = minF(scale, maxEJerk/jerkE)
			}
			vJunction = minF(bd.pos.previousNominalSpeed, nominalSpeed*scale)
		}

		vAllowable := math.Sqrt(2*accelMMSS*millimeters + MinPlannerSpeed*MinPlannerSpeed)
		entrySpeed = minF(vJunction, vAllowable)
		nominalLength = nominalSpeed <= vAllowable
	}

	blk := bd.ring.headBlock()
	blk.reset()
	blk.ID = uuid.NewV4()
	blk.Steps = [NumAxes]int64{absI64(deltaSteps[AxisX]), absI64(deltaSteps[AxisY]), absI64(deltaSteps[AxisZ]), absI64(deltaSteps[AxisE])}
	blk.StepEventCount = stepEventCount
	blk.DirectionBits = dirBits
	blk.Millimeters = millimeters
	blk.NominalSpeed = nominalSpeed
	blk.NominalRate = nominalRate
	blk.AccelerationSt = accelerationSt
	blk.EntrySpeed = entrySpeed
	blk.MaxEntrySpeed = vJunction
	blk.NominalLength = nominalLength
	blk.Travel = noMove
	blk.NoMove = noMove
	blk.ActiveExtruder = extruder
	blk.FanSpeed = bd.fanSpeed[clampExtruder(extruder)]
	if noMove {
		if deltaSteps[AxisE] < 0 {
			blk.Retract = true
		} else if deltaSteps[AxisE] > 0 {
			blk.Restore = true
		}
	}

	// Step 13: initial trapezoid, conservative exit at vJunction (safe
	// floor), to be raised by the next BuildLine's look-ahead pass.
	entryFactor := safeFactor(entrySpeed, nominalSpeed)
	exitFactor := safeFactor(vJunction, nominalSpeed)
	ResolveTrapezoid(blk, entryFactor, exitFactor)

	// A new block is always flagged, so the look-ahead's trapezoid pass
	// recomputes its predecessor with this block's entry speed as the exit.
	blk.RecalculateFlag = true

	// Step 14: commit.
	bd.pos.previousSpeed = vCur
	bd.pos.previousNominalSpeed = nominalSpeed
	bd.pos.position = targetSteps
	bd.ring.advanceHead()

	Replan(bd.ring)

	if bd.onBlockBuilt != nil {
		bd.onBlockBuilt(blk)
	}
}

// waitForRoom cooperatively spins while the ring buffer is full, ticking the
// heater/inactivity/display collaborators on each iteration exactly as
// plan_buffer_line's backpressure loop does, and yielding the scheduler
// between iterations since there is no hardware idle instruction to fall
// back on in a hosted Go process.
func (bd *Builder) waitForRoom() {
	for bd.ring.isFull() {
		if bd.onWait != nil {
			bd.onWait()
		}
		bd.collaborators.tick()
		time.Sleep(bd.collaborators.pollInterval())
	}
}

func clampExtruder(extruder int) int {
	if extruder < 0 || extruder >= MaxExtruders {
		return 0
	}
	return extruder
}

func axisStepsPerUnitFor(snap configSnapshot, axis int, stepsPerUnitE float64) float64 {
	if axis == AxisE {
		return stepsPerUnitE
	}
	return snap.AxisStepsPerUnit[axis]
}

func round(v float64) int64 {
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
