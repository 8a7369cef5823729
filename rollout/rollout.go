// Package rollout stores the recent history of every environment's robot
// state so a substep can be undone without re-simulating.
package rollout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/batchsim/geom"
)

// MaxStorageSteps is the ring size: a current slot, a previous slot, and
// one spare slot absorbing writes of the substep in flight.
const MaxStorageSteps = 3

// Ring tracks which storage slot is current and which is previous.
type Ring struct {
	size     int
	current  int
	previous int
}

// NewRing returns a ring with size slots and no previous slot yet.
func NewRing(size int) Ring {
	if size < MaxStorageSteps {
		panic(fmt.Sprintf("rollout: ring size %d below minimum %d", size, MaxStorageSteps))
	}
	return Ring{size: size, previous: -1}
}

// Advance makes the current slot previous and moves to the next slot.
func (r *Ring) Advance() {
	r.previous = r.current
	r.current = (r.current + 1) % r.size
}

// Current returns the write slot.
func (r Ring) Current() int { return r.current }

// HasPrevious reports whether Advance has run at least once.
func (r Ring) HasPrevious() bool { return r.previous >= 0 }

// Previous returns the read slot of the running substep.
func (r Ring) Previous() int {
	if r.previous < 0 {
		panic("rollout: no previous slot before first Advance")
	}
	return r.previous
}

// Slot is a view onto one timestep of the structure-of-arrays record.
// Per-env fields are indexed by env; joint positions by
// env*NumPosVars+var; node transforms by env*NumNodes+node.
type Slot struct {
	Yaws           []float64
	Positions      []r2.Vec
	JointPositions []float64
	RootTransforms []geom.Transform
	NodeTransforms []geom.Transform

	numPosVars int
	numNodes   int
}

// Joints returns env b's joint positions.
func (s Slot) Joints(b int) []float64 {
	return s.JointPositions[b*s.numPosVars : (b+1)*s.numPosVars]
}

// Nodes returns env b's node transforms.
func (s Slot) Nodes(b int) []geom.Transform {
	return s.NodeTransforms[b*s.numNodes : (b+1)*s.numNodes]
}

// Storage is the ring of Slots for the whole batch.
type Storage struct {
	ring       Ring
	slots      [MaxStorageSteps]Slot
	numEnvs    int
	numPosVars int
	numNodes   int
}

// NewStorage allocates all slots, filled with NaN until written.
func NewStorage(numEnvs, numPosVars, numNodes int) *Storage {
	s := &Storage{
		ring:       NewRing(MaxStorageSteps),
		numEnvs:    numEnvs,
		numPosVars: numPosVars,
		numNodes:   numNodes,
	}
	nan := math.NaN()
	for i := range s.slots {
		slot := Slot{
			Yaws:           make([]float64, numEnvs),
			Positions:      make([]r2.Vec, numEnvs),
			JointPositions: make([]float64, numEnvs*numPosVars),
			RootTransforms: make([]geom.Transform, numEnvs),
			NodeTransforms: make([]geom.Transform, numEnvs*numNodes),
			numPosVars:     numPosVars,
			numNodes:       numNodes,
		}
		for b := range slot.Yaws {
			slot.Yaws[b] = nan
			slot.Positions[b] = r2.Vec{X: nan, Y: nan}
			slot.RootTransforms[b] = geom.NaNTransform
		}
		for j := range slot.JointPositions {
			slot.JointPositions[j] = nan
		}
		for n := range slot.NodeTransforms {
			slot.NodeTransforms[n] = geom.NaNTransform
		}
		s.slots[i] = slot
	}
	return s
}

// NumEnvs returns the batch size.
func (s *Storage) NumEnvs() int { return s.numEnvs }

// NumPosVars returns the joint-position stride.
func (s *Storage) NumPosVars() int { return s.numPosVars }

// NumNodes returns the node-transform stride.
func (s *Storage) NumNodes() int { return s.numNodes }

// Advance moves the ring forward one substep.
func (s *Storage) Advance() { s.ring.Advance() }

// Ring returns the ring position.
func (s *Storage) Ring() Ring { return s.ring }

// Current returns the slot being written this substep.
func (s *Storage) Current() Slot { return s.slots[s.ring.Current()] }

// Previous returns the slot written by the last substep.
func (s *Storage) Previous() Slot { return s.slots[s.ring.Previous()] }

// Rollback overwrites env b's yaw, position and joint positions in the
// current slot with the previous slot's values. Root and node transforms
// are left stale until the next kinematics pass.
func (s *Storage) Rollback(b int) {
	cur, prev := s.Current(), s.Previous()
	cur.Yaws[b] = prev.Yaws[b]
	cur.Positions[b] = prev.Positions[b]
	copy(cur.Joints(b), prev.Joints(b))
}
