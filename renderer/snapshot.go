package renderer

import (
	"fmt"
	"hash/fnv"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/geom"
)

// SnapshotOptions configures PNG output.
type SnapshotOptions struct {
	Dir            string
	Every          int // write every Nth frame
	MaxEnvs        int // envs written per frame
	PixelsPerMeter float64
	Bounds         geom.AABB // world region drawn, XZ only
}

// Snapshot is a Recorder that writes top-down PNG frames with gg.
type Snapshot struct {
	*Recorder

	opts       SnapshotOptions
	footprints map[string]geom.AABB

	// Background returns static boxes drawn under env's instances.
	Background func(env int) []geom.AABB

	err error
}

// NewSnapshot creates the output directory and an empty recorder.
func NewSnapshot(numEnvs int, opts SnapshotOptions) (*Snapshot, error) {
	if opts.Every <= 0 {
		opts.Every = 1
	}
	if opts.MaxEnvs <= 0 || opts.MaxEnvs > numEnvs {
		opts.MaxEnvs = numEnvs
	}
	if opts.PixelsPerMeter <= 0 {
		return nil, fmt.Errorf("renderer: pixels per meter must be positive, got %g", opts.PixelsPerMeter)
	}
	if opts.Bounds.IsEmpty() {
		return nil, fmt.Errorf("renderer: empty snapshot bounds")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &Snapshot{
		Recorder:   NewRecorder(numEnvs),
		opts:       opts,
		footprints: make(map[string]geom.AABB),
	}, nil
}

// SetFootprint gives an asset a local box drawn as its outline. Assets
// without one are drawn as dots.
func (s *Snapshot) SetFootprint(asset string, box geom.AABB) {
	s.footprints[asset] = box
}

// Render records the frame and writes PNGs when it is due.
func (s *Snapshot) Render() {
	s.Recorder.Render()
	if s.err != nil || (s.Frames()-1)%s.opts.Every != 0 {
		return
	}
	for env := 0; env < s.opts.MaxEnvs; env++ {
		path := filepath.Join(s.opts.Dir, fmt.Sprintf("env%03d_frame%06d.png", env, s.Frames()-1))
		if err := s.DrawEnv(env).SavePNG(path); err != nil {
			s.err = fmt.Errorf("writing snapshot: %w", err)
			slog.Error("snapshot disabled", "error", err)
			return
		}
	}
}

// Close returns the first write error, if any.
func (s *Snapshot) Close() error {
	return s.err
}

// DrawEnv renders env top-down: +X right, +Z down.
func (s *Snapshot) DrawEnv(env int) *gg.Context {
	b := s.opts.Bounds
	ppm := s.opts.PixelsPerMeter
	w := int(math.Ceil((b.Max.X - b.Min.X) * ppm))
	h := int(math.Ceil((b.Max.Z - b.Min.Z) * ppm))
	dc := gg.NewContext(w, h)

	dc.SetColor(color.RGBA{12, 12, 28, 255})
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	// World meters to pixels.
	dc.Scale(ppm, ppm)
	dc.Translate(-b.Min.X, -b.Min.Z)

	if s.Background != nil {
		for _, box := range s.Background(env) {
			// Taller geometry is lighter.
			v := uint8(40 + 150*geom.Clamp(box.Max.Y/1.5, 0, 1))
			dc.SetColor(color.RGBA{v, v, v + 10, 255})
			dc.DrawRectangle(box.Min.X, box.Min.Z, box.Max.X-box.Min.X, box.Max.Z-box.Min.Z)
			dc.Fill()
		}
	}

	s.Each(env, func(_ int, inst Instance) {
		dc.SetColor(assetColor(inst.Asset))
		box, ok := s.footprints[inst.Asset]
		if !ok {
			p := inst.Transform.Translation
			dc.DrawCircle(p.X, p.Z, 0.04)
			dc.Fill()
			return
		}
		for i, c := range []r3.Vec{
			{X: box.Min.X, Z: box.Min.Z},
			{X: box.Max.X, Z: box.Min.Z},
			{X: box.Max.X, Z: box.Max.Z},
			{X: box.Min.X, Z: box.Max.Z},
		} {
			p := inst.Transform.Point(c)
			if i == 0 {
				dc.MoveTo(p.X, p.Z)
			} else {
				dc.LineTo(p.X, p.Z)
			}
		}
		dc.ClosePath()
		dc.Fill()
	})

	cam := s.Camera(env)
	if cam.HFOV > 0 {
		p := cam.Transform.Translation
		fwd := cam.Transform.Vector(r3.Vec{Z: -1})
		dc.SetColor(color.RGBA{255, 220, 80, 255})
		dc.SetLineWidth(2 / ppm)
		dc.DrawLine(p.X, p.Z, p.X+fwd.X*0.3, p.Z+fwd.Z*0.3)
		dc.Stroke()
	}
	return dc
}

// assetColor picks a stable color per asset name.
func assetColor(asset string) color.Color {
	h := fnv.New32a()
	h.Write([]byte(asset))
	v := h.Sum32()
	return color.RGBA{R: 80 + uint8(v)%160, G: 80 + uint8(v>>8)%160, B: 80 + uint8(v>>16)%160, A: 255}
}
