// Package kinematics computes world transforms of an articulated robot
// from its base transform and joint positions.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
)

// ErrJointLimits is returned for limit pairs that are neither a finite
// ordered range nor the unbounded (-Inf, +Inf) pair.
var ErrJointLimits = errors.New("kinematics: invalid joint limits")

// Engine is the kinematics contract the simulator consumes. Link indices
// run from 0 to NumLinks()-1; the base is not a link.
type Engine interface {
	NumLinks() int
	NumPosVars() int
	LinkIndex(name string) (int, bool)
	LinkPosVarOffset(link int) (offset, count int)
	SetBaseWorldTransform(t geom.Transform)
	SetJointPosMultiDof(link int, values []float64)
	ForwardKinematics()
	LinkWorldTransform(link int) geom.Transform
	JointPositionLimits() (lo, hi []float64)
}

// JointType selects how a link moves relative to its parent.
type JointType int

const (
	JointFixed JointType = iota
	JointRevolute
	JointContinuous
	JointPrismatic
)

// ParseJointType maps a description string to a JointType.
func ParseJointType(s string) (JointType, error) {
	switch s {
	case "", "fixed":
		return JointFixed, nil
	case "revolute":
		return JointRevolute, nil
	case "continuous":
		return JointContinuous, nil
	case "prismatic":
		return JointPrismatic, nil
	}
	return JointFixed, fmt.Errorf("kinematics: unknown joint type %q", s)
}

// Link is one rigid body of the tree.
type Link struct {
	Name   string
	Parent int // -1 for children of the base
	Origin geom.Transform
	Type   JointType
	Axis   r3.Vec
	Lo, Hi float64

	posVar int // -1 for fixed joints
}

// Chain is a tree of links evaluated parent-first.
type Chain struct {
	links      []Link
	byName     map[string]int
	numPosVars int

	base      geom.Transform
	positions []float64
	world     []geom.Transform
	lo, hi    []float64
}

// NewChain validates links (parents must precede children) and assigns
// one position variable to every moving joint.
func NewChain(links []Link) (*Chain, error) {
	c := &Chain{
		links:  make([]Link, len(links)),
		byName: make(map[string]int, len(links)),
		base:   geom.Identity,
	}
	copy(c.links, links)

	for i := range c.links {
		l := &c.links[i]
		if _, dup := c.byName[l.Name]; dup {
			return nil, fmt.Errorf("kinematics: duplicate link %q", l.Name)
		}
		if l.Parent >= i {
			return nil, fmt.Errorf("kinematics: link %q listed before its parent", l.Name)
		}
		c.byName[l.Name] = i

		l.posVar = -1
		if l.Type == JointFixed {
			continue
		}
		if l.Type == JointContinuous {
			l.Lo, l.Hi = math.Inf(-1), math.Inf(1)
		}
		if err := ValidateLimits(l.Lo, l.Hi); err != nil {
			return nil, fmt.Errorf("link %q: %w", l.Name, err)
		}
		if r3.Norm(l.Axis) == 0 {
			return nil, fmt.Errorf("kinematics: link %q has a zero joint axis", l.Name)
		}
		l.Axis = r3.Unit(l.Axis)
		l.posVar = c.numPosVars
		c.numPosVars++
		c.lo = append(c.lo, l.Lo)
		c.hi = append(c.hi, l.Hi)
	}

	c.positions = make([]float64, c.numPosVars)
	c.world = make([]geom.Transform, len(c.links))
	return c, nil
}

// ValidateLimits accepts a finite range lo < hi or the unbounded pair.
func ValidateLimits(lo, hi float64) error {
	if math.IsInf(lo, -1) && math.IsInf(hi, 1) {
		return nil
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) || !(lo < hi) {
		return fmt.Errorf("%w: [%g, %g]", ErrJointLimits, lo, hi)
	}
	return nil
}

// NumLinks returns the number of links.
func (c *Chain) NumLinks() int { return len(c.links) }

// NumPosVars returns the number of joint position variables.
func (c *Chain) NumPosVars() int { return c.numPosVars }

// Link returns link i's description.
func (c *Chain) Link(i int) Link { return c.links[i] }

// LinkIndex looks up a link by name.
func (c *Chain) LinkIndex(name string) (int, bool) {
	i, ok := c.byName[name]
	return i, ok
}

// LinkPosVarOffset returns where link's position variables live in the
// joint vector, and how many there are.
func (c *Chain) LinkPosVarOffset(link int) (offset, count int) {
	if v := c.links[link].posVar; v >= 0 {
		return v, 1
	}
	return 0, 0
}

// SetBaseWorldTransform places the robot base.
func (c *Chain) SetBaseWorldTransform(t geom.Transform) { c.base = t }

// SetJointPosMultiDof sets the position variables of one link.
func (c *Chain) SetJointPosMultiDof(link int, values []float64) {
	off, n := c.LinkPosVarOffset(link)
	copy(c.positions[off:off+n], values)
}

// SetJointPositions sets the full joint vector.
func (c *Chain) SetJointPositions(values []float64) {
	copy(c.positions, values)
}

// ForwardKinematics recomputes all link world transforms.
func (c *Chain) ForwardKinematics() {
	for i := range c.links {
		l := &c.links[i]
		parent := c.base
		if l.Parent >= 0 {
			parent = c.world[l.Parent]
		}
		local := l.Origin
		switch l.Type {
		case JointRevolute, JointContinuous:
			local = local.Mul(geom.Rotation(geom.AxisAngle(l.Axis, c.positions[l.posVar])))
		case JointPrismatic:
			local = local.Mul(geom.Translation(r3.Scale(c.positions[l.posVar], l.Axis)))
		}
		c.world[i] = parent.Mul(local)
	}
}

// LinkWorldTransform returns link's transform from the last ForwardKinematics.
func (c *Chain) LinkWorldTransform(link int) geom.Transform { return c.world[link] }

// JointPositionLimits returns the per-variable limits.
func (c *Chain) JointPositionLimits() (lo, hi []float64) { return c.lo, c.hi }
