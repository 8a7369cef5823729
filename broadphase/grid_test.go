package broadphase

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
)

func newTestGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(0.3, -10, -10, 10, 10, 1<<20, 0.5)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func unitBox(half float64) *geom.AABB {
	return &geom.AABB{
		Min: r3.Vec{X: -half, Y: -half, Z: -half},
		Max: r3.Vec{X: half, Y: half, Z: half},
	}
}

func TestInsertThenQueryOwnCenter(t *testing.T) {
	g := newTestGrid(t)
	box := unitBox(0.2)

	var positions []r3.Vec
	for i := 0; i < 20; i++ {
		positions = append(positions, r3.Vec{X: -8 + float64(i%5)*3, Y: 0.2, Z: -8 + float64(i/5)*3})
	}

	for i, p := range positions {
		slot, err := g.InsertObstacle(p, geom.YawRotation(float64(i)*0.3), box)
		if err != nil {
			t.Fatalf("InsertObstacle(%v): %v", p, err)
		}
		if slot != i {
			t.Fatalf("InsertObstacle slot = %d, want %d", slot, i)
		}
	}

	for i, p := range positions {
		if got := g.ContactTest(p, 0.2); got != i {
			t.Errorf("ContactTest at obstacle %d center = %d, want %d", i, got, i)
		}
	}
}

func TestDisableAndReinsert(t *testing.T) {
	g := newTestGrid(t)
	box := unitBox(0.25)
	p := r3.Vec{X: 1.1, Y: 0.25, Z: -2.3}

	slot, err := g.InsertObstacle(p, geom.IdentityRotation, box)
	if err != nil {
		t.Fatal(err)
	}

	g.DisableObstacle(slot)
	if got := g.ContactTest(p, 0.1); got != -1 {
		t.Errorf("ContactTest after disable = %d, want -1", got)
	}
	if !g.IsObstacleDisabled(slot) {
		t.Error("expected obstacle to report disabled")
	}

	if err := g.ReinsertObstacle(slot, p, geom.IdentityRotation); err != nil {
		t.Fatal(err)
	}
	if got := g.ContactTest(p, 0.1); got != slot {
		t.Errorf("ContactTest after reinsert = %d, want %d", got, slot)
	}
}

func TestReinsertMoves(t *testing.T) {
	g := newTestGrid(t)
	box := unitBox(0.1)
	from := r3.Vec{X: -5, Y: 0.1, Z: -5}
	to := r3.Vec{X: 6, Y: 0.1, Z: 4}

	slot, _ := g.InsertObstacle(from, geom.IdentityRotation, box)
	g.DisableObstacle(slot)
	if err := g.ReinsertObstacle(slot, to, geom.YawRotation(1)); err != nil {
		t.Fatal(err)
	}

	if got := g.ContactTest(from, 0.1); got != -1 {
		t.Errorf("old position still reports %d", got)
	}
	if got := g.ContactTest(to, 0.1); got != slot {
		t.Errorf("new position = %d, want %d", got, slot)
	}
	if o := g.Obstacle(slot); o.Pos != to {
		t.Errorf("Obstacle(%d).Pos = %v, want %v", slot, o.Pos, to)
	}
}

func TestContactTestOrientedBox(t *testing.T) {
	g := newTestGrid(t)
	// Long thin box along local X, rotated 90 degrees so it runs along world Z.
	box := &geom.AABB{Min: r3.Vec{X: -1, Y: 0, Z: -0.05}, Max: r3.Vec{X: 1, Y: 0.1, Z: 0.05}}
	slot, _ := g.InsertObstacle(r3.Vec{}, geom.YawRotation(math.Pi/2), box)

	tests := []struct {
		name string
		p    r3.Vec
		want int
	}{
		{"along world z", r3.Vec{Y: 0.05, Z: 0.9}, slot},
		{"along world x", r3.Vec{X: 0.9, Y: 0.05}, -1},
		{"just above", r3.Vec{Y: 0.15, Z: 0.5}, slot},
		{"well above", r3.Vec{Y: 0.5, Z: 0.5}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ContactTest(tt.p, 0.1); got != tt.want {
				t.Errorf("ContactTest(%v) = %d, want %d", tt.p, got, tt.want)
			}
		})
	}
}

func TestQueryNearCellBoundary(t *testing.T) {
	g := newTestGrid(t)
	box := unitBox(0.05)
	// Obstacle sits just left of a cell boundary; probe sits just right of it.
	slot, _ := g.InsertObstacle(r3.Vec{X: 0.48, Y: 0.05}, geom.IdentityRotation, box)
	if got := g.ContactTest(r3.Vec{X: 0.55, Y: 0.05}, 0.05); got != slot {
		t.Errorf("cross-cell contact = %d, want %d", got, slot)
	}
}

func TestRemoveAllObstacles(t *testing.T) {
	g := newTestGrid(t)
	box := unitBox(0.2)
	for i := 0; i < 5; i++ {
		g.InsertObstacle(r3.Vec{X: float64(i)}, geom.IdentityRotation, box)
	}
	g.RemoveAllObstacles()

	if n := g.NumObstacles(); n != 0 {
		t.Errorf("NumObstacles = %d, want 0", n)
	}
	if got := g.ContactTest(r3.Vec{X: 2}, 0.2); got != -1 {
		t.Errorf("ContactTest after RemoveAll = %d, want -1", got)
	}
	slot, _ := g.InsertObstacle(r3.Vec{X: 3}, geom.IdentityRotation, box)
	if slot != 0 {
		t.Errorf("first slot after RemoveAll = %d, want 0", slot)
	}
}

func TestNewGridErrors(t *testing.T) {
	_, err := NewGrid(0.3, -100, -100, 100, 100, 1024, 0.5)
	if !errors.Is(err, ErrGridBudget) {
		t.Errorf("expected ErrGridBudget, got %v", err)
	}

	g := newTestGrid(t)
	_, err = g.InsertObstacle(r3.Vec{X: 50}, geom.IdentityRotation, unitBox(0.1))
	if !errors.Is(err, ErrOutOfDomain) {
		t.Errorf("expected ErrOutOfDomain, got %v", err)
	}
}
