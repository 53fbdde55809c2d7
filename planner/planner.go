package planner

import (
	uuid "github.com/satori/go.uuid"

	"github.com/ac3d-labs/motionplan/internal/logging"
)

// Planner wires the kinematic configuration, axis position register, block
// ring buffer, builder, look-ahead and activity scanner into the external
// interface SPEC_FULL.md section 6 names: plan_init, plan_buffer_line,
// plan_set_position, plan_set_e_position, moves_planned,
// check_axes_activity and allow_cold_extrudes.
type Planner struct {
	ID uuid.UUID

	cfg      *Config
	pos      *positionState
	ring     *ring
	builder  *Builder
	scanner  *activityScanner
	log      *logging.Logger
}

// New constructs a Planner. io and collaborators may be nil; a nil io
// degrades axis-activity output to a no-op, a nil collaborators set skips
// the heater/inactivity/display ticks during backpressure waits.
func New(cfg *Config, io IOLink, policy IdlePolicy, collaborators *Collaborators, log *logging.Logger) *Planner {
	if io == nil {
		io = noopIOLink{}
	}
	r := newRing()
	pos := newPositionState()
	p := &Planner{
		ID:      uuid.NewV4(),
		cfg:     cfg,
		pos:     pos,
		ring:    r,
		builder: newBuilder(cfg, pos, r, collaborators),
		scanner: newActivityScanner(r, io, policy),
		log:     log,
	}
	if log != nil {
		p.builder.onBlockBuilt = func(b *Block) {
			log.Debugf("block %s built: steps=%v millimeters=%.4f nominal_speed=%.2f entry_speed=%.2f",
				b.ID, b.Steps, b.Millimeters, b.NominalSpeed, b.EntrySpeed)
		}
		p.builder.onWait = func() {
			log.Infof("ring buffer full, waiting for the stepper to advance tail")
		}
	}
	return p
}

// Init zeroes head/tail, position and junction memory. Equivalent to
// plan_init.
func (p *Planner) Init() {
	p.ring.storeHead(0)
	p.ring.storeTail(0)
	p.pos.setPosition([NumAxes]int64{})
}

// BufferLine enqueues one segment. Equivalent to plan_buffer_line.
func (p *Planner) BufferLine(x, y, z, e, feedRate float64, extruder int) {
	p.builder.BuildLine(x, y, z, e, feedRate, extruder)
}

// SetPosition forces the current position (mm) and resets junction memory.
// Precondition: the queue must be empty; callers are responsible for
// draining first. Equivalent to plan_set_position.
func (p *Planner) SetPosition(x, y, z, e float64) {
	snap := p.cfg.snapshot()
	p.pos.setPosition([NumAxes]int64{
		round(x * snap.AxisStepsPerUnit[AxisX]),
		round(y * snap.AxisStepsPerUnit[AxisY]),
		round(z * snap.AxisStepsPerUnit[AxisZ]),
		round(e * snap.AxisStepsPerUnit[AxisE]),
	})
	if p.log != nil {
		p.log.Infof("position reset to (%.4f, %.4f, %.4f, %.4f)", x, y, z, e)
	}
}

// SetEPosition forces the extruder position only. Equivalent to
// plan_set_e_position.
func (p *Planner) SetEPosition(e float64) {
	snap := p.cfg.snapshot()
	p.pos.setEPosition(round(e * snap.AxisStepsPerUnit[AxisE]))
}

// MovesPlanned returns the current queue depth. Equivalent to
// movesplanned().
func (p *Planner) MovesPlanned() int {
	return p.ring.depth()
}

// CheckAxesActivity runs the idle-axis / fan-latch scan. Equivalent to
// check_axes_activity.
func (p *Planner) CheckAxesActivity() {
	p.scanner.Scan()
}

// SetAcceleration, SetMaxXYJerk, SetMaxZJerk, SetMaxEJerk and
// SetRetractAcceleration are runtime-mutation entry points for
// SET_VELOCITY_LIMIT-style commands (SPEC_FULL.md 9A), delegating to the
// underlying Config. SetMaxEJerk and SetRetractAcceleration are per-extruder.
func (p *Planner) SetAcceleration(v float64) { p.cfg.SetAcceleration(v) }
func (p *Planner) SetMaxXYJerk(v float64)    { p.cfg.SetMaxXYJerk(v) }
func (p *Planner) SetMaxZJerk(v float64)     { p.cfg.SetMaxZJerk(v) }
func (p *Planner) SetMaxEJerk(extruder int, v float64) {
	p.cfg.SetMaxEJerk(extruder, v)
}
func (p *Planner) SetRetractAcceleration(extruder int, v float64) {
	p.cfg.SetRetractAcceleration(extruder, v)
}

// SetFanSpeed is the M106/M107 entry point: it latches the PWM fraction that
// every subsequently built block stamps into its FanSpeed field, for
// CheckAxesActivity to later drive out over IOLink.
func (p *Planner) SetFanSpeed(extruder int, speed float64) {
	p.builder.SetFanSpeed(extruder, speed)
}

// OnWait registers an additional callback invoked whenever BufferLine blocks
// on a full ring buffer, alongside the internal info-level wait log. cmd/plannerd uses
// this to trigger an out-of-band status render on backpressure, rather than
// waiting for the next timer tick.
func (p *Planner) OnWait(fn func()) {
	prev := p.builder.onWait
	p.builder.onWait = func() {
		if prev != nil {
			prev()
		}
		fn()
	}
}

// Config exposes the underlying kinematic configuration, e.g. for SaveTOML.
func (p *Planner) Config() *Config { return p.cfg }

// AllowColdExtrudes toggles the cold-extrude policy flag consulted by the
// (out-of-scope) upstream E-motion guard.
func (p *Planner) AllowColdExtrudes(allow bool) {
	p.cfg.SetAllowColdExtrudes(allow)
}

// StepperQueue is the consumer-side view of the ring buffer: claim the next
// block (marking it busy) and release it once executed (advancing tail).
// internal/stepper plays the simulated-ISR role against this interface
// without needing access to the ring type itself.
type StepperQueue interface {
	ClaimNext() (*Block, bool)
	Release(b *Block)
}

// Queue exposes the stepper-side view of the ring buffer. It is the only
// collaborator besides the Planner itself allowed to touch a block's busy
// flag and advance tail.
func (p *Planner) Queue() StepperQueue { return p.ring }

type noopIOLink struct{}

func (noopIOLink) EnableAxis(int)           {}
func (noopIOLink) DisableAxis(int)          {}
func (noopIOLink) SetFanSpeed(int, float64) {}
