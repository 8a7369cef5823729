// Package components defines ECS components for live free objects.
package components

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FreeObject identifies a spawned free object.
type FreeObject struct {
	Env   int32 // environment owning the object
	Index int32 // spawn index within the episode; equals the broadphase slot
	Def   int32 // index into the episode set's free object catalog
}

// Pose is the object's current world pose. While held, it follows the
// gripper; while removed from the grid, Position is NaN.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// RenderInstance is the object's render instance id.
type RenderInstance struct {
	ID int32
}
