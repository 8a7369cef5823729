package robot

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/columngrid"
	"github.com/pthm-cable/batchsim/geom"
)

// NodeVisual is a node's optional render instance.
type NodeVisual struct {
	id int
	ok bool
}

// Visual returns a NodeVisual bound to render instance id.
func Visual(id int) NodeVisual {
	return NodeVisual{id: id, ok: true}
}

// ID returns the render instance id, if the node has one.
func (v NodeVisual) ID() (int, bool) {
	return v.id, v.ok
}

// Instance is one environment's robot state outside the rollout record.
type Instance struct {
	GripperLink    geom.Transform
	GrippedIdx     int
	GrippedPrevPos r3.Vec
	DoAttemptGrip  bool
	DoAttemptDrop  bool
	Collided       bool
}

// Holding reports whether the robot holds a free object.
func (in *Instance) Holding() bool {
	return in.GrippedIdx != -1
}

// InstanceSet holds per-environment robot state for the batch.
type InstanceSet struct {
	Robot *Robot
	Envs  []Instance

	// Indexed by env*NumSpheres + sphere.
	SphereWorldOrigins []r3.Vec
	SphereQueryCaches  []columngrid.QueryCache

	// Indexed by env, then node.
	NodeVisuals [][]NodeVisual

	CollisionResultsValid bool
}

// NewInstanceSet allocates state for numEnvs robots, all idle.
func NewInstanceSet(r *Robot, numEnvs int) *InstanceSet {
	s := &InstanceSet{
		Robot:       r,
		Envs:        make([]Instance, numEnvs),
		NodeVisuals: make([][]NodeVisual, numEnvs),
	}
	for b := range s.Envs {
		s.Envs[b] = Instance{GrippedIdx: -1, GripperLink: geom.NaNTransform}
		s.NodeVisuals[b] = make([]NodeVisual, r.NumNodes)
	}
	s.ResizeSpheres()
	return s
}

// ResizeSpheres reallocates sphere buffers after the robot's spheres change.
func (s *InstanceSet) ResizeSpheres() {
	n := len(s.Envs) * s.Robot.NumSpheres()
	s.SphereWorldOrigins = make([]r3.Vec, n)
	s.SphereQueryCaches = make([]columngrid.QueryCache, n)
	s.CollisionResultsValid = false
}

// EnvSpheres returns env b's sphere world origins and query caches.
func (s *InstanceSet) EnvSpheres(b int) ([]r3.Vec, []columngrid.QueryCache) {
	n := s.Robot.NumSpheres()
	return s.SphereWorldOrigins[b*n : (b+1)*n], s.SphereQueryCaches[b*n : (b+1)*n]
}
