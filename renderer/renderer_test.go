package renderer

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
)

var (
	_ Backend = (*Recorder)(nil)
	_ Backend = (*Snapshot)(nil)
)

func TestRecorderReverseDeleteReusesAscending(t *testing.T) {
	r := NewRecorder(2)
	robot := r.AddInstance(0, "base", geom.Identity)

	batch := func() []int {
		var ids []int
		for i := 0; i < 4; i++ {
			ids = append(ids, r.AddInstance(0, "box", geom.Identity))
		}
		return ids
	}

	first := batch()
	for i := len(first) - 1; i >= 0; i-- {
		r.DeleteInstance(0, first[i])
	}
	second := batch()

	for i := range first {
		if second[i] != first[i] {
			t.Errorf("id %d after reverse delete = %d, want %d", i, second[i], first[i])
		}
		if i > 0 && second[i] != second[i-1]+1 {
			t.Errorf("ids %v not contiguous", second)
		}
	}
	if second[0] == robot {
		t.Error("live id reused")
	}
	if got := r.NumInstances(0); got != 5 {
		t.Errorf("NumInstances(0) = %d, want 5", got)
	}
	if got := r.NumInstances(1); got != 0 {
		t.Errorf("NumInstances(1) = %d, want 0", got)
	}
}

func TestRecorderUpdateAndLookup(t *testing.T) {
	r := NewRecorder(1)
	id := r.AddInstance(0, "mug", geom.Identity)
	xf := geom.Translation(r3.Vec{X: 1, Y: 2, Z: 3})
	r.UpdateInstanceTransform(0, id, xf)

	inst, ok := r.Instance(0, id)
	if !ok {
		t.Fatal("instance missing")
	}
	if inst.Asset != "mug" || inst.Transform != xf {
		t.Errorf("instance = %+v", inst)
	}

	r.DeleteInstance(0, id)
	if _, ok := r.Instance(0, id); ok {
		t.Error("deleted instance still live")
	}
}

func TestRecorderPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *Recorder)
	}{
		{"delete unknown", func(r *Recorder) { r.DeleteInstance(0, 3) }},
		{"double delete", func(r *Recorder) {
			id := r.AddInstance(0, "a", geom.Identity)
			r.DeleteInstance(0, id)
			r.DeleteInstance(0, id)
		}},
		{"update deleted", func(r *Recorder) {
			id := r.AddInstance(0, "a", geom.Identity)
			r.DeleteInstance(0, id)
			r.UpdateInstanceTransform(0, id, geom.Identity)
		}},
		{"double render", func(r *Recorder) { r.Render(); r.Render() }},
		{"wait without render", func(r *Recorder) { r.WaitForFrame() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("did not panic")
				}
			}()
			tt.fn(NewRecorder(1))
		})
	}
}

func TestSnapshotWritesPNG(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSnapshot(2, SnapshotOptions{
		Dir:            dir,
		Every:          2,
		MaxEnvs:        1,
		PixelsPerMeter: 20,
		Bounds:         geom.AABB{Min: r3.Vec{X: -2, Z: -2}, Max: r3.Vec{X: 2, Z: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.SetFootprint("box", geom.AABB{Min: r3.Vec{X: -0.1, Z: -0.1}, Max: r3.Vec{X: 0.1, Z: 0.1}})
	s.Background = func(int) []geom.AABB {
		return []geom.AABB{{Min: r3.Vec{X: -2, Y: -0.1, Z: -2}, Max: r3.Vec{X: 2, Y: 0, Z: 2}}}
	}
	s.AddInstance(0, "box", geom.Translation(r3.Vec{X: 0.5}))
	s.AddInstance(0, "dot", geom.Identity)

	for i := 0; i < 3; i++ {
		s.Render()
		s.WaitForFrame()
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Frames 0 and 2 for env 0 only.
	matches, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	if len(matches) != 2 {
		t.Fatalf("wrote %d files, want 2: %v", len(matches), matches)
	}

	f, err := os.Open(filepath.Join(dir, "env000_frame000000.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 80 {
		t.Errorf("image size = %dx%d, want 80x80", b.Dx(), b.Dy())
	}
}
