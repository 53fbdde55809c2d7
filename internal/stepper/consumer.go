// Package stepper simulates the stepper interrupt side of the planner's
// producer/consumer split: a goroutine that claims the block at the ring
// buffer's tail, "executes" its resolved profile by sleeping a duration
// derived from its step counts and rates, then releases the slot. The real
// Bresenham pulse generation and acceleration-timer reload this stands in
// for are out of scope (SPEC_FULL.md 1).
package stepper

import (
	"context"
	"time"

	"github.com/ac3d-labs/motionplan/internal/logging"
	"github.com/ac3d-labs/motionplan/planner"
)

// Consumer drains a planner.StepperQueue on a dedicated goroutine.
type Consumer struct {
	queue   planner.StepperQueue
	log     *logging.Logger
	speedUp float64 // >1 shortens simulated execution time, for fast tests

	onBlockDone func(*planner.Block)
}

// New builds a Consumer. speedUp scales down the simulated execution time
// of each block; 1 means real time, higher values run faster (tests
// typically use something like 1000).
func New(queue planner.StepperQueue, log *logging.Logger, speedUp float64) *Consumer {
	if speedUp <= 0 {
		speedUp = 1
	}
	return &Consumer{queue: queue, log: log, speedUp: speedUp}
}

// OnBlockDone registers a callback invoked after each block is released.
func (c *Consumer) OnBlockDone(fn func(*planner.Block)) {
	c.onBlockDone = fn
}

// Run drains the queue until ctx is cancelled. Intended to be started on its
// own goroutine by the caller.
func (c *Consumer) Run(ctx context.Context) {
	if c.log != nil {
		defer c.log.CatchPanic()
	}

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, ok := c.queue.ClaimNext()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		c.execute(b)
		c.queue.Release(b)
		if c.onBlockDone != nil {
			c.onBlockDone(b)
		}
	}
}

// execute sleeps for a duration approximating how long the real stepper
// would spend pulsing this block's step_event_count steps at its resolved
// rates, scaled by speedUp.
func (c *Consumer) execute(b *planner.Block) {
	if b.StepEventCount == 0 || b.NominalRate == 0 {
		return
	}
	avgRate := float64(b.InitialRate+b.FinalRate) / 2
	if avgRate <= 0 {
		avgRate = float64(b.NominalRate)
	}
	seconds := float64(b.StepEventCount) / avgRate / c.speedUp
	if seconds <= 0 {
		return
	}
	if c.log != nil {
		c.log.Debugf("executing block %s: steps=%d avg_rate=%.1f sim_duration=%.4fs", b.ID, b.StepEventCount, avgRate, seconds)
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}
