// Package geom provides rigid transforms, rotations and bounding boxes
// shared by the collision, kinematics and simulation packages.
//
// Vectors are gonum r3.Vec values and rotations are unit quaternions
// (gonum quat.Number). The world is Y-up; the robot base moves on the
// XZ ground plane.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Axis unit vectors.
var (
	XAxis = r3.Vec{X: 1}
	YAxis = r3.Vec{Y: 1}
	ZAxis = r3.Vec{Z: 1}
)

// IdentityRotation is the rotation that leaves vectors unchanged.
var IdentityRotation = quat.Number{Real: 1}

// AxisAngle returns the unit quaternion rotating by angle radians about axis.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	axis = r3.Unit(axis)
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// YawRotation returns the rotation about +Y used for the robot base heading.
func YawRotation(yaw float64) quat.Number {
	return AxisAngle(YAxis, yaw)
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// InverseRotation returns the inverse of a unit quaternion.
func InverseRotation(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// NormalizeRotation rescales q to unit length. A zero quaternion becomes identity.
func NormalizeRotation(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityRotation
	}
	return quat.Scale(1/n, q)
}

// Heading returns the XZ ground-plane direction a base with the given yaw faces.
// Yaw 0 faces +X; positive yaw turns toward -Z.
func Heading(yaw float64) r2.Vec {
	s, c := math.Sincos(yaw)
	return r2.Vec{X: c, Y: -s}
}

// Ground lifts a ground-plane position (x, z) into world space at height y.
func Ground(p r2.Vec, y float64) r3.Vec {
	return r3.Vec{X: p.X, Y: y, Z: p.Y}
}

// Transform is a rigid transform: rotate, then translate.
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// Identity is the transform that leaves points unchanged.
var Identity = Transform{Rotation: IdentityRotation}

// Translation returns a pure translation.
func Translation(v r3.Vec) Transform {
	return Transform{Rotation: IdentityRotation, Translation: v}
}

// Rotation returns a pure rotation.
func Rotation(q quat.Number) Transform {
	return Transform{Rotation: q}
}

// Point transforms a point.
func (t Transform) Point(p r3.Vec) r3.Vec {
	return r3.Add(Rotate(t.Rotation, p), t.Translation)
}

// Vector transforms a direction (rotation only).
func (t Transform) Vector(v r3.Vec) r3.Vec {
	return Rotate(t.Rotation, v)
}

// Mul returns t*o, the transform that applies o first and then t.
func (t Transform) Mul(o Transform) Transform {
	return Transform{
		Rotation:    quat.Mul(t.Rotation, o.Rotation),
		Translation: t.Point(o.Translation),
	}
}

// Inverse returns the inverse rigid transform.
func (t Transform) Inverse() Transform {
	inv := InverseRotation(t.Rotation)
	return Transform{
		Rotation:    inv,
		Translation: Rotate(inv, r3.Scale(-1, t.Translation)),
	}
}

// IsNaN reports whether the transform holds uninitialized (NaN) values.
func (t Transform) IsNaN() bool {
	return math.IsNaN(t.Translation.X) || math.IsNaN(t.Rotation.Real)
}

// NaNTransform is the sentinel written into storage slots that have not been computed.
var NaNTransform = Transform{
	Rotation:    quat.Number{Real: math.NaN(), Imag: math.NaN(), Jmag: math.NaN(), Kmag: math.NaN()},
	Translation: r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
}

// NaNVec is a vector of NaNs, used for absent positions.
var NaNVec = r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
