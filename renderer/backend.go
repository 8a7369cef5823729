// Package renderer defines the instance-based render backend the
// simulator drives, with a headless recorder and a PNG snapshot backend.
//
// Each environment owns one scene. Instances are added by asset name and
// identified by per-scene ids.
package renderer

import (
	"github.com/pthm-cable/batchsim/geom"
)

// Camera is a perspective camera. Transform is camera-to-world; the camera
// looks down its local -Z with +Y up.
type Camera struct {
	Transform geom.Transform
	HFOV      float64 // degrees
	Aspect    float64
	Near, Far float64
}

// Default clip planes.
const (
	DefaultNear = 0.01
	DefaultFar  = 1000
)

// Backend is the render capability the simulator consumes.
//
// Ids handed out by AddInstance are reused after DeleteInstance: the most
// recently deleted id is reused first. A caller that deletes a batch in
// reverse insertion order gets the same ids back in ascending order.
type Backend interface {
	NumEnvs() int
	AddInstance(env int, asset string, xf geom.Transform) int
	UpdateInstanceTransform(env, id int, xf geom.Transform)
	DeleteInstance(env, id int)
	SetCamera(env int, cam Camera)
	Render()
	WaitForFrame()
	Close() error
}
