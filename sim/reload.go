package sim

import (
	"fmt"
	"slices"

	"github.com/pthm-cable/batchsim/collection"
)

// ReloadCollection swaps in new robot and free-object collision spheres
// and held rotations, rebuilt from the episode set given to New. The
// radius working set must not change, since the column grids were baked
// for it.
func (s *Simulator) ReloadCollection(col *collection.Collection) error {
	s.assertIdle("ReloadCollection")
	if !slices.Equal(col.CollisionRadiusWorkingSet, s.col.CollisionRadiusWorkingSet) {
		return fmt.Errorf("%w: collision radius working set changed from %v to %v",
			ErrInvalidRequest, s.col.CollisionRadiusWorkingSet, col.CollisionRadiusWorkingSet)
	}
	if len(col.Robots) == 0 {
		return fmt.Errorf("%w: collection has no robot", ErrInvalidRequest)
	}
	fresh := s.source.WithPrivateCatalog()
	if err := fresh.UpdateFromCollection(col); err != nil {
		return fmt.Errorf("reloading free objects: %w", err)
	}
	if err := s.robot.SetCollisionSpheres(col.Robots[0].Links, col); err != nil {
		return fmt.Errorf("reloading robot spheres: %w", err)
	}
	s.set.FreeObjects = fresh.FreeObjects
	s.col = col
	s.applyCollisionSwitches()
	s.robots.ResizeSpheres()
	return nil
}
