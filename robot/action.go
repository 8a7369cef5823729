package robot

import (
	"math"

	"github.com/pthm-cable/batchsim/geom"
)

// RemapAction clamps a normalized action to [-1, 1] and maps it linearly
// onto [stepMin, stepMax].
func RemapAction(action, stepMin, stepMax float64) float64 {
	a := geom.Clamp(action, -1, 1)
	return geom.Lerp(stepMin, stepMax, (a+1)*0.5)
}

// GraspIntent applies grasp/release hysteresis. An idle gripper attempts
// a grasp only at action >= hi; a holding gripper attempts a drop only
// at action < lo.
func GraspIntent(holding bool, action, lo, hi float64) (attemptGrip, attemptDrop bool) {
	if holding {
		return false, action < lo
	}
	return action >= hi, false
}

// NormalizeJointPosition maps a raw joint position to a normalized value.
// Unbounded joints wrap into (-pi, pi], and an infinite position gives
// NaN. Bounded joints map linearly so that lo becomes 0 and hi becomes 1.
func NormalizeJointPosition(pos, lo, hi float64) float64 {
	if math.IsInf(lo, -1) && math.IsInf(hi, 1) {
		pos = math.Remainder(pos, 2*math.Pi)
		if pos <= -math.Pi {
			pos += 2 * math.Pi
		}
		return pos
	}
	return (pos - lo) / (hi - lo)
}
