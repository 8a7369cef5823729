// Package collection holds the serialized robot, action-map, gripper and
// free-object configuration shared by every environment.
package collection

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/batchsim/kinematics"
)

//go:embed default_collection.yaml
var defaultCollectionYAML []byte

// ErrInvalidActionMap is returned for out-of-range action indices or
// malformed grasp thresholds.
var ErrInvalidActionMap = errors.New("collection: invalid action map")

// ErrUnknownRadius is returned when a sphere radius is not in the working set.
var ErrUnknownRadius = errors.New("collection: radius not in working set")

// ActionSetup maps one action component to a per-substep delta range.
type ActionSetup struct {
	ActionIdx int     `yaml:"action_idx"`
	StepMin   float64 `yaml:"step_min"`
	StepMax   float64 `yaml:"step_max"`
}

// GraspReleaseSetup maps one action component to grasp/release with
// hysteresis thresholds [low, high].
type GraspReleaseSetup struct {
	ActionIdx  int       `yaml:"action_idx"`
	Thresholds []float64 `yaml:"thresholds"`
}

// Low returns the release threshold.
func (g GraspReleaseSetup) Low() float64 { return g.Thresholds[0] }

// High returns the grasp threshold.
func (g GraspReleaseSetup) High() float64 { return g.Thresholds[1] }

// JointAction drives one joint position variable.
type JointAction struct {
	JointIdx    int `yaml:"joint_idx"`
	ActionSetup `yaml:",inline"`
}

// ActionMap describes how the flat action vector drives the robot.
type ActionMap struct {
	NumActions   int               `yaml:"num_actions"`
	BaseMove     ActionSetup       `yaml:"base_move"`
	BaseRotate   ActionSetup       `yaml:"base_rotate"`
	GraspRelease GraspReleaseSetup `yaml:"grasp_release"`
	Joints       []JointAction     `yaml:"joints"`
}

// Sphere is a collision sphere in its owner's local frame.
type Sphere struct {
	Origin [3]float64 `yaml:"origin"`
	Radius float64    `yaml:"radius"`
}

// OriginVec returns the origin as a vector.
func (s Sphere) OriginVec() r3.Vec {
	return r3.Vec{X: s.Origin[0], Y: s.Origin[1], Z: s.Origin[2]}
}

// CollisionLink lists the spheres attached to one robot link.
type CollisionLink struct {
	LinkName string   `yaml:"link"`
	Spheres  []Sphere `yaml:"spheres"`
}

// Gripper defines the probe sphere used for grasp queries.
type Gripper struct {
	AttachLinkName string     `yaml:"attach_link"`
	Offset         [3]float64 `yaml:"offset"`
	Radius         float64    `yaml:"radius"`
}

// OffsetVec returns the probe offset in the gripper link frame.
func (g Gripper) OffsetVec() r3.Vec {
	return r3.Vec{X: g.Offset[0], Y: g.Offset[1], Z: g.Offset[2]}
}

// Robot is the serialized robot configuration.
type Robot struct {
	Kinematics          kinematics.Description `yaml:"kinematics"`
	Gripper             Gripper                `yaml:"gripper"`
	Links               []CollisionLink        `yaml:"links"`
	StartJointPositions []float64              `yaml:"start_joint_positions"`
	ActionMap           ActionMap              `yaml:"action_map"`
}

// Sphere generation techniques for free objects.
const (
	SpheresBox             = "box"
	SpheresUprightCylinder = "upright_cylinder"
)

// FreeObject sets collision spheres and the held rotation for a free
// object by name. Spheres are either listed or generated from the
// object's bounding box.
type FreeObject struct {
	Name              string   `yaml:"name"`
	HeldRotationIndex int      `yaml:"held_rotation_index"`
	CollisionSpheres  []Sphere `yaml:"collision_spheres"`
	GenerateSpheres   string   `yaml:"generate_collision_spheres"`
}

// Collection is the top-level serialized configuration.
type Collection struct {
	CollisionRadiusWorkingSet []float64    `yaml:"collision_radius_working_set"`
	Robots                    []Robot      `yaml:"robots"`
	FreeObjects               []FreeObject `yaml:"free_objects"`
}

// Load reads and validates a collection file.
func Load(path string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded collection: a mobile manipulator with a
// three-joint arm and a two-radius working set.
func Default() (*Collection, error) {
	return Parse(defaultCollectionYAML)
}

// Parse decodes and validates collection YAML.
func Parse(data []byte) (*Collection, error) {
	var c Collection
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing collection: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the parts of the collection that do not depend on the
// kinematic tree. Joint index ranges are checked when the robot is built.
func (c *Collection) Validate() error {
	if len(c.CollisionRadiusWorkingSet) == 0 {
		return errors.New("collection: empty collision radius working set")
	}
	if !sort.Float64sAreSorted(c.CollisionRadiusWorkingSet) {
		return errors.New("collection: collision radius working set must be ascending")
	}
	if len(c.Robots) == 0 {
		return errors.New("collection: no robots")
	}
	for i := range c.Robots {
		r := &c.Robots[i]
		if err := r.ActionMap.Validate(); err != nil {
			return fmt.Errorf("robot %d: %w", i, err)
		}
		for _, l := range r.Links {
			for _, s := range l.Spheres {
				if _, err := c.RadiusIndex(s.Radius); err != nil {
					return fmt.Errorf("robot %d link %q: %w", i, l.LinkName, err)
				}
			}
		}
		if r.Gripper.Radius <= 0 {
			return fmt.Errorf("robot %d: gripper radius must be positive", i)
		}
	}
	for _, fo := range c.FreeObjects {
		switch fo.GenerateSpheres {
		case "", SpheresBox, SpheresUprightCylinder:
		default:
			return fmt.Errorf("collection: free object %q: unknown sphere technique %q (want %q or %q)",
				fo.Name, fo.GenerateSpheres, SpheresBox, SpheresUprightCylinder)
		}
		if fo.GenerateSpheres == "" && len(fo.CollisionSpheres) == 0 {
			return fmt.Errorf("collection: free object %q has no collision spheres and no generation technique", fo.Name)
		}
		for _, s := range fo.CollisionSpheres {
			if _, err := c.RadiusIndex(s.Radius); err != nil {
				return fmt.Errorf("free object %q: %w", fo.Name, err)
			}
		}
	}
	return nil
}

// Validate checks action indices and grasp thresholds.
func (m *ActionMap) Validate() error {
	if m.NumActions <= 0 {
		return fmt.Errorf("%w: num_actions must be positive", ErrInvalidActionMap)
	}
	check := func(what string, idx int) error {
		if idx < 0 || idx >= m.NumActions {
			return fmt.Errorf("%w: %s action index %d outside [0, %d)", ErrInvalidActionMap, what, idx, m.NumActions)
		}
		return nil
	}
	if err := check("base_move", m.BaseMove.ActionIdx); err != nil {
		return err
	}
	if err := check("base_rotate", m.BaseRotate.ActionIdx); err != nil {
		return err
	}
	if err := check("grasp_release", m.GraspRelease.ActionIdx); err != nil {
		return err
	}
	for _, j := range m.Joints {
		if err := check(fmt.Sprintf("joint %d", j.JointIdx), j.ActionIdx); err != nil {
			return err
		}
	}
	th := m.GraspRelease.Thresholds
	if len(th) != 2 {
		return fmt.Errorf("%w: grasp_release needs 2 thresholds, got %d", ErrInvalidActionMap, len(th))
	}
	if th[0] > th[1] {
		return fmt.Errorf("%w: grasp_release thresholds %v not ordered", ErrInvalidActionMap, th)
	}
	return nil
}

// ValidateJoints checks joint indices against the robot's position variables.
func (m *ActionMap) ValidateJoints(numPosVars int) error {
	for _, j := range m.Joints {
		if j.JointIdx < 0 || j.JointIdx >= numPosVars {
			return fmt.Errorf("%w: joint index %d outside [0, %d)", ErrInvalidActionMap, j.JointIdx, numPosVars)
		}
	}
	return nil
}

// RadiusIndex returns the working-set index of radius.
func (c *Collection) RadiusIndex(radius float64) (int, error) {
	for i, r := range c.CollisionRadiusWorkingSet {
		if math.Abs(r-radius) < 1e-6 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %g (have %v)", ErrUnknownRadius, radius, c.CollisionRadiusWorkingSet)
}

// MaxCollisionRadius returns the largest radius in the working set.
func (c *Collection) MaxCollisionRadius() float64 {
	return c.CollisionRadiusWorkingSet[len(c.CollisionRadiusWorkingSet)-1]
}

// FreeObjectByName returns the override for name, if any.
func (c *Collection) FreeObjectByName(name string) (*FreeObject, bool) {
	for i := range c.FreeObjects {
		if c.FreeObjects[i].Name == name {
			return &c.FreeObjects[i], true
		}
	}
	return nil, false
}
