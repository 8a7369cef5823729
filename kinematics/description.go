package kinematics

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/batchsim/geom"
)

// LinkConfig is the file form of a Link.
type LinkConfig struct {
	Name        string     `yaml:"name"`
	Parent      string     `yaml:"parent"`
	XYZ         [3]float64 `yaml:"xyz"`
	RPY         [3]float64 `yaml:"rpy"`
	Joint       string     `yaml:"joint"`
	Axis        [3]float64 `yaml:"axis"`
	Limits      [2]float64 `yaml:"limits"`
	VisualAsset string     `yaml:"visual"`
}

// Description is the file form of a robot's kinematic tree.
type Description struct {
	Name  string       `yaml:"name"`
	Links []LinkConfig `yaml:"links"`
}

// LoadDescription reads a description from a YAML file.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading robot description: %w", err)
	}
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing robot description: %w", err)
	}
	return &d, nil
}

// RPYRotation composes roll (X), pitch (Y) and yaw (Z) as Rz*Ry*Rx.
func RPYRotation(rpy [3]float64) quat.Number {
	qx := geom.AxisAngle(geom.XAxis, rpy[0])
	qy := geom.AxisAngle(geom.YAxis, rpy[1])
	qz := geom.AxisAngle(geom.ZAxis, rpy[2])
	return quat.Mul(qz, quat.Mul(qy, qx))
}

// Build converts the description into a Chain.
func (d *Description) Build() (*Chain, error) {
	index := make(map[string]int, len(d.Links))
	links := make([]Link, len(d.Links))
	for i, lc := range d.Links {
		jt, err := ParseJointType(lc.Joint)
		if err != nil {
			return nil, fmt.Errorf("link %q: %w", lc.Name, err)
		}
		parent := -1
		if lc.Parent != "" {
			p, ok := index[lc.Parent]
			if !ok {
				return nil, fmt.Errorf("kinematics: link %q references unknown or later parent %q", lc.Name, lc.Parent)
			}
			parent = p
		}
		lo, hi := lc.Limits[0], lc.Limits[1]
		if jt == JointRevolute && lo == 0 && hi == 0 {
			lo, hi = -math.Pi, math.Pi
		}
		links[i] = Link{
			Name:   lc.Name,
			Parent: parent,
			Origin: geom.Transform{
				Rotation:    RPYRotation(lc.RPY),
				Translation: r3.Vec{X: lc.XYZ[0], Y: lc.XYZ[1], Z: lc.XYZ[2]},
			},
			Type: jt,
			Axis: r3.Vec{X: lc.Axis[0], Y: lc.Axis[1], Z: lc.Axis[2]},
			Lo:   lo,
			Hi:   hi,
		}
		index[lc.Name] = i
	}
	return NewChain(links)
}
