package planner

import (
	"math"

	"github.com/ac3d-labs/motionplan/common/lock"
)

// trapezoidCommitLock guards the commit step of ResolveTrapezoid (step 6 of
// SPEC_FULL.md 4.3): a short exclusive section during which a non-busy
// block's resolved profile fields are written, so the stepper side never
// observes a half-updated profile. This is the same spinlock shape the
// teacher stack uses for its own short exclusive sections, generalized here
// to guard one block's commit at a time rather than a single global
// resource.
var trapezoidCommitLock lock.SpinLock

// ResolveTrapezoid fills b's InitialRate, FinalRate, AccelerateUntil and
// DecelerateAfter from the given entry/exit speed factors (each in (0,1],
// relative to b.NominalSpeed). It is a no-op if the block is busy: the
// stepper has already claimed it and its profile must not change.
func ResolveTrapezoid(b *Block, entryFactor, exitFactor float64) {
	if b.IsBusy() {
		return
	}

	nominalRate := b.NominalRate
	initialRate := clampRate(int64(math.Ceil(float64(nominalRate)*entryFactor)), nominalRate)
	finalRate := clampRate(int64(math.Ceil(float64(nominalRate)*exitFactor)), nominalRate)

	accel := b.AccelerationSt
	n := b.StepEventCount

	var accelerateSteps, decelerateSteps int64
	if accel > 0 {
		accelerateSteps = int64(math.Ceil(accelerationDistance(float64(initialRate), float64(nominalRate), accel)))
		decelerateSteps = int64(math.Floor(accelerationDistance(float64(nominalRate), float64(finalRate), -accel)))
	}

	plateau := n - accelerateSteps - decelerateSteps
	if plateau < 0 {
		if accel > 0 {
			accelerateSteps = int64(math.Ceil(intersectionDistance(float64(initialRate), float64(finalRate), accel, n)))
		} else {
			accelerateSteps = 0
		}
		if accelerateSteps < 0 {
			accelerateSteps = 0
		}
		if accelerateSteps > n {
			accelerateSteps = n
		}
		plateau = 0
	}

	trapezoidCommitLock.Lock()
	defer trapezoidCommitLock.Unlock()
	if b.IsBusy() {
		return
	}
	b.InitialRate = initialRate
	b.FinalRate = finalRate
	b.AccelerateUntil = accelerateSteps
	b.DecelerateAfter = accelerateSteps + plateau
}

func clampRate(rate, nominalRate int64) int64 {
	if rate < MinStepRate {
		rate = MinStepRate
	}
	if rate > nominalRate {
		rate = nominalRate
	}
	return rate
}

// accelerationDistance returns the number of steps needed to go from
// initialRate to targetRate at the given (possibly negative) acceleration,
// i.e. (targetRate^2 - initialRate^2) / (2*accel). Grounded on
// estimate_acceleration_distance.
func accelerationDistance(initialRate, targetRate, accel float64) float64 {
	if accel == 0 {
		return 0
	}
	return (targetRate*targetRate - initialRate*initialRate) / (2 * accel)
}

// intersectionDistance returns the step index at which the acceleration and
// deceleration parabolas starting at initialRate and ending at finalRate
// over n steps cross, i.e. the accelerate-step count of a triangular
// profile. Grounded on intersection_distance.
func intersectionDistance(initialRate, finalRate, accel float64, n int64) float64 {
	if accel == 0 {
		return 0
	}
	return (2*accel*float64(n) - initialRate*initialRate + finalRate*finalRate) / (4 * accel)
}

// maxAllowableSpeed returns the highest entry speed from which a block of
// the given length can still decelerate to targetVelocity without exceeding
// accel. Grounded on max_allowable_speed; used by both look-ahead passes.
func maxAllowableSpeed(accel, targetVelocity, distance float64) float64 {
	return math.Sqrt(targetVelocity*targetVelocity + 2*accel*distance)
}
