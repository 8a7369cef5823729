package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max r3.Vec
}

// EmptyAABB returns a box that any Union will replace.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// Center returns the box center.
func (b AABB) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Size returns the box extents.
func (b AABB) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

// IsEmpty reports whether the box has no volume on some axis.
func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Corner returns one of the eight corners, selected by the low three bits of i.
func (b AABB) Corner(i int) r3.Vec {
	c := b.Min
	if i&1 != 0 {
		c.X = b.Max.X
	}
	if i&2 != 0 {
		c.Y = b.Max.Y
	}
	if i&4 != 0 {
		c.Z = b.Max.Z
	}
	return c
}

// Contains reports whether p lies inside or on the box.
func (b AABB) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ClosestPoint returns the point of the box nearest to p.
func (b AABB) ClosestPoint(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: Clamp(p.X, b.Min.X, b.Max.X),
		Y: Clamp(p.Y, b.Min.Y, b.Max.Y),
		Z: Clamp(p.Z, b.Min.Z, b.Max.Z),
	}
}

// SphereOverlaps reports whether a sphere at p with radius r touches the box.
func (b AABB) SphereOverlaps(p r3.Vec, r float64) bool {
	return r3.Norm2(r3.Sub(p, b.ClosestPoint(p))) <= r*r
}

// Union returns the smallest box containing both boxes.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: r3.Vec{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y), Z: math.Min(b.Min.Z, o.Min.Z)},
		Max: r3.Vec{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y), Z: math.Max(b.Max.Z, o.Max.Z)},
	}
}

// UnionPoint grows the box to include p.
func (b AABB) UnionPoint(p r3.Vec) AABB {
	return b.Union(AABB{Min: p, Max: p})
}

// Padded grows the box by pad on every side.
func (b AABB) Padded(pad float64) AABB {
	d := r3.Vec{X: pad, Y: pad, Z: pad}
	return AABB{Min: r3.Sub(b.Min, d), Max: r3.Add(b.Max, d)}
}

// Transformed returns the world-space box enclosing b after transform t.
func (b AABB) Transformed(t Transform) AABB {
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		out = out.UnionPoint(t.Point(b.Corner(i)))
	}
	return out
}

// FootprintRadius returns the largest horizontal distance from the rotation
// origin to any corner of the box after rotating it by q.
func (b AABB) FootprintRadius(q quat.Number) float64 {
	var r2 float64
	for i := 0; i < 8; i++ {
		c := Rotate(q, b.Corner(i))
		d := c.X*c.X + c.Z*c.Z
		if d > r2 {
			r2 = d
		}
	}
	return math.Sqrt(r2)
}
