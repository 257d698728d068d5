// Package kinematics converts output-shaft degrees into motor steps for a
// geared axis.
package kinematics

import (
	"errors"
	"fmt"
	"math"
)

// MotorFullSteps is the full-step count of the 1.8° steppers the gimbal uses.
const MotorFullSteps = 200

// ErrZeroTeeth is returned by Gear.Validate when a tooth count is zero.
var ErrZeroTeeth = errors.New("tooth count must be > 0")

// Gear describes the belt/gear reduction between the motor and an axis.
type Gear struct {
	DriveTeeth  uint16 // pulley on the motor shaft
	DrivenTeeth uint16 // pulley on the axis
}

// Validate rejects gears that would make StepsPerDegree meaningless.
// It runs once at configuration time.
func (g Gear) Validate() error {
	if g.DriveTeeth == 0 {
		return fmt.Errorf("drive teeth: %w", ErrZeroTeeth)
	}
	if g.DrivenTeeth == 0 {
		return fmt.Errorf("driven teeth: %w", ErrZeroTeeth)
	}
	return nil
}

// StepsPerDegree returns the steps needed to rotate the axis by one degree.
// fullStepsPerRev is the motor full-step count times the microstep factor.
// Both tooth counts must be non-zero (see Gear.Validate).
func StepsPerDegree(driveTeeth, drivenTeeth uint16, fullStepsPerRev uint32) float32 {
	return (float32(driveTeeth) / float32(drivenTeeth)) * (float32(fullStepsPerRev) / 360)
}

// StepsPerDegree is a convenience wrapper for a validated gear.
func (g Gear) StepsPerDegree(fullStepsPerRev uint32) float32 {
	return StepsPerDegree(g.DriveTeeth, g.DrivenTeeth, fullStepsPerRev)
}

// NumSteps converts a rotation in degrees to a whole number of steps,
// rounding down.
func NumSteps(degrees, stepsPerDegree float32) uint32 {
	return floorU32(degrees * stepsPerDegree)
}

// StepsPerSecond converts an angular velocity in degrees/second to a step
// rate, rounding down.
func StepsPerSecond(velocity, stepsPerDegree float32) uint32 {
	return floorU32(velocity * stepsPerDegree)
}

// HalfPeriodMicros returns the high (and low) time of one step pulse for
// the given step rate. A zero rate yields zero; callers treat that as
// "do not pulse".
func HalfPeriodMicros(stepsPerSecond uint32) uint32 {
	if stepsPerSecond == 0 {
		return 0
	}
	return uint32(1_000_000 / (2 * uint64(stepsPerSecond)))
}

func floorU32(v float32) uint32 {
	f := math.Floor(float64(v))
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(f)
}
