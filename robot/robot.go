// Package robot describes the batch's robot (kinematics, collision spheres,
// gripper, action mapping) and holds per-environment robot state.
package robot

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/collection"
	"github.com/pthm-cable/batchsim/kinematics"
)

// CollisionSphere is a sphere fixed to a node.
type CollisionSphere struct {
	Origin    r3.Vec
	RadiusIdx int
}

// Robot is the immutable, shared robot description. Node 0 is the base
// (root) transform; node i+1 is kinematic link i.
type Robot struct {
	Engine     kinematics.Engine
	NumPosVars int
	NumNodes   int

	JointLo, JointHi []float64

	Spheres       []CollisionSphere
	SpheresByNode [][]int

	GripperLink        int
	GripperQueryOffset r3.Vec
	GripperQueryRadius float64

	ActionMap           collection.ActionMap
	StartJointPositions []float64
	NodeAssets          []string
}

// New builds a robot from its serialized form, validating joint indices,
// limits, gripper link and sphere radii.
func New(cfg *collection.Robot, col *collection.Collection) (*Robot, error) {
	chain, err := cfg.Kinematics.Build()
	if err != nil {
		return nil, fmt.Errorf("building robot kinematics: %w", err)
	}

	r := &Robot{
		Engine:     chain,
		NumPosVars: chain.NumPosVars(),
		NumNodes:   chain.NumLinks() + 1,
		ActionMap:  cfg.ActionMap,
	}
	r.JointLo, r.JointHi = chain.JointPositionLimits()
	for i := range r.JointLo {
		if err := kinematics.ValidateLimits(r.JointLo[i], r.JointHi[i]); err != nil {
			return nil, fmt.Errorf("joint %d: %w", i, err)
		}
	}

	if err := r.ActionMap.Validate(); err != nil {
		return nil, err
	}
	if err := r.ActionMap.ValidateJoints(r.NumPosVars); err != nil {
		return nil, err
	}

	if len(cfg.StartJointPositions) != r.NumPosVars {
		return nil, fmt.Errorf("robot: %d start joint positions for %d position variables",
			len(cfg.StartJointPositions), r.NumPosVars)
	}
	r.StartJointPositions = make([]float64, r.NumPosVars)
	copy(r.StartJointPositions, cfg.StartJointPositions)

	link, ok := chain.LinkIndex(cfg.Gripper.AttachLinkName)
	if !ok {
		return nil, fmt.Errorf("robot: gripper attach link %q not found", cfg.Gripper.AttachLinkName)
	}
	r.GripperLink = link
	r.GripperQueryOffset = cfg.Gripper.OffsetVec()
	r.GripperQueryRadius = cfg.Gripper.Radius

	r.NodeAssets = make([]string, r.NumNodes)
	for i, lc := range cfg.Kinematics.Links {
		r.NodeAssets[i+1] = lc.VisualAsset
	}

	if err := r.SetCollisionSpheres(cfg.Links, col); err != nil {
		return nil, err
	}
	return r, nil
}

// SetCollisionSpheres replaces the per-node collision spheres.
func (r *Robot) SetCollisionSpheres(links []collection.CollisionLink, col *collection.Collection) error {
	spheres := []CollisionSphere{}
	byNode := make([][]int, r.NumNodes)
	for _, cl := range links {
		link, ok := r.Engine.LinkIndex(cl.LinkName)
		if !ok {
			return fmt.Errorf("robot: collision link %q not found", cl.LinkName)
		}
		node := link + 1
		for _, s := range cl.Spheres {
			idx, err := col.RadiusIndex(s.Radius)
			if err != nil {
				return fmt.Errorf("robot link %q: %w", cl.LinkName, err)
			}
			byNode[node] = append(byNode[node], len(spheres))
			spheres = append(spheres, CollisionSphere{Origin: s.OriginVec(), RadiusIdx: idx})
		}
	}
	r.Spheres = spheres
	r.SpheresByNode = byNode
	return nil
}

// NumSpheres returns the number of collision spheres on the robot.
func (r *Robot) NumSpheres() int {
	return len(r.Spheres)
}

// GripperNode returns the node index of the gripper link.
func (r *Robot) GripperNode() int {
	return r.GripperLink + 1
}
