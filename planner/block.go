// Package planner implements the look-ahead speed planner: it turns a stream
// of absolute-position line segments into a bounded queue of motion blocks,
// each carrying a fully resolved trapezoidal (or triangular) step-rate
// profile for a downstream stepper engine to execute.
package planner

import (
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

// Axis indexes into the four-element per-axis arrays used throughout this
// package, matching the X, Y, Z, E ordering of the original firmware.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes
)

// Direction bit positions within Block.DirectionBits.
const (
	DirBitX = 1 << AxisX
	DirBitY = 1 << AxisY
	DirBitZ = 1 << AxisZ
	DirBitE = 1 << AxisE
)

// Block is one straight-line motion segment together with its resolved
// step-rate profile. A Block's zero value is not meaningful; blocks are only
// ever produced by Builder.BuildLine and mutated in place by Replan /
// ResolveTrapezoid while they sit in the ring buffer.
type Block struct {
	ID uuid.UUID

	// Step counts, Bresenham master-axis count and direction bits.
	Steps          [NumAxes]int64
	StepEventCount int64
	DirectionBits  uint8

	// Geometry and target speeds.
	Millimeters  float64
	NominalSpeed float64 // mm/s
	NominalRate  int64   // steps/s

	// A single acceleration for the whole block, already axis-clamped.
	AccelerationSt float64 // steps/s^2

	// Junction velocities maintained by the look-ahead passes.
	EntrySpeed      float64
	MaxEntrySpeed   float64
	NominalLength   bool
	RecalculateFlag bool

	// Resolved trapezoid profile (outputs of ResolveTrapezoid).
	InitialRate     int64
	FinalRate       int64
	AccelerateUntil int64
	DecelerateAfter int64

	// Classification.
	Travel         bool
	Retract        bool
	Restore        bool
	NoMove         bool
	FanSpeed       float64
	ActiveExtruder int

	// busy is set by the stepper consumer when it claims this slot; while
	// set, the planner must not mutate any profile field. Guarded with
	// atomics rather than the mutex used for exclusive commit sections,
	// since both the foreground and stepper side need a fast, non-blocking
	// test of this flag.
	busy int32
}

// IsBusy reports whether the stepper side has claimed this block.
func (b *Block) IsBusy() bool {
	return atomic.LoadInt32(&b.busy) != 0
}

// MarkBusy claims the block for execution. Returns false if already claimed.
func (b *Block) MarkBusy() bool {
	return atomic.CompareAndSwapInt32(&b.busy, 0, 1)
}

// reset clears a block to its post-release zero state for reuse by a future
// BuildLine call at the same ring slot. Every field is cleared, the UUID
// included; BuildLine stamps a fresh one before first logging the block.
func (b *Block) reset() {
	*b = Block{busy: 0}
}
