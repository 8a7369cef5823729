package ui

import (
	"fmt"
	"hash/fnv"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/batchsim/camera"
	"github.com/pthm-cable/batchsim/geom"
	"github.com/pthm-cable/batchsim/renderer"
)

const controlsLegend = "Space: pause | N: step | [ ]: env | Arrows: pan | Wheel/+/-: zoom | Home: reset view"

// Viewer draws one environment of a Recorder top-down with +X right and
// +Z down the screen. The window must be open before NewViewer.
type Viewer struct {
	rec        *renderer.Recorder
	cam        *camera.Camera
	renderer   *Renderer
	hud        *HUD
	footprints map[string]geom.AABB

	// Background returns static boxes drawn under env's instances.
	Background func(env int) []geom.AABB

	env      int
	paused   bool
	stepOnce bool
}

// NewViewer frames bounds (XZ only) in a width by height viewport.
func NewViewer(rec *renderer.Recorder, bounds geom.AABB, width, height int) *Viewer {
	return &Viewer{
		rec: rec,
		cam: camera.New(float32(width), float32(height),
			float32(bounds.Min.X), float32(bounds.Min.Z), float32(bounds.Max.X), float32(bounds.Max.Z)),
		renderer:   NewRenderer(),
		hud:        NewHUD(),
		footprints: make(map[string]geom.AABB),
	}
}

// SetFootprint gives an asset a local box drawn as its outline. Assets
// without one are drawn as dots.
func (v *Viewer) SetFootprint(asset string, box geom.AABB) {
	v.footprints[asset] = box
}

// Env returns the displayed environment.
func (v *Viewer) Env() int { return v.env }

// Paused reports whether stepping is paused.
func (v *Viewer) Paused() bool { return v.paused }

// ShouldStep reports whether the caller should advance the simulator
// this frame, consuming a pending single step.
func (v *Viewer) ShouldStep() bool {
	if !v.paused {
		return true
	}
	step := v.stepOnce
	v.stepOnce = false
	return step
}

func (v *Viewer) selectEnv(delta int) {
	n := v.rec.NumEnvs()
	v.env = ((v.env+delta)%n + n) % n
}

// HandleInput processes keyboard and mouse input.
func (v *Viewer) HandleInput() {
	if rl.IsWindowResized() {
		v.cam.Resize(float32(rl.GetScreenWidth()), float32(rl.GetScreenHeight()))
	}

	if rl.IsKeyPressed(rl.KeySpace) {
		v.paused = !v.paused
	}
	if rl.IsKeyPressed(rl.KeyN) {
		v.paused = true
		v.stepOnce = true
	}
	if rl.IsKeyPressed(rl.KeyLeftBracket) {
		v.selectEnv(-1)
	}
	if rl.IsKeyPressed(rl.KeyRightBracket) {
		v.selectEnv(1)
	}

	// Pan speed scales inversely with zoom
	panSpeed := float32(8.0) / v.cam.Zoom
	if rl.IsKeyDown(rl.KeyRight) {
		v.cam.Pan(panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		v.cam.Pan(-panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyDown) {
		v.cam.Pan(0, panSpeed)
	}
	if rl.IsKeyDown(rl.KeyUp) {
		v.cam.Pan(0, -panSpeed)
	}

	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		v.cam.ZoomBy(1 + wheel*0.1)
	}
	if rl.IsKeyPressed(rl.KeyEqual) || rl.IsKeyPressed(rl.KeyKpAdd) {
		v.cam.ZoomBy(1.25)
	}
	if rl.IsKeyPressed(rl.KeyMinus) || rl.IsKeyPressed(rl.KeyKpSubtract) {
		v.cam.ZoomBy(0.8)
	}
	if rl.IsKeyPressed(rl.KeyHome) {
		v.cam.Reset()
	}
}

func (v *Viewer) toScreen(p r3.Vec) rl.Vector2 {
	x, y := v.cam.WorldToScreen(float32(p.X), float32(p.Z))
	return rl.NewVector2(x, y)
}

// Draw renders the selected env, the HUD and the controls. It must be
// called between rl.BeginDrawing and rl.EndDrawing.
func (v *Viewer) Draw(data HUDData) {
	rl.ClearBackground(v.renderer.Theme.Background)

	if v.Background != nil {
		for _, box := range v.Background(v.env) {
			lo := v.toScreen(box.Min)
			hi := v.toScreen(box.Max)
			// Taller geometry is lighter.
			c := v.renderer.Theme.SceneBox
			lift := uint8(120 * geom.Clamp(box.Max.Y/1.5, 0, 1))
			c.R, c.G, c.B = c.R+lift, c.G+lift, c.B+lift
			rl.DrawRectangleV(lo, rl.NewVector2(hi.X-lo.X, hi.Y-lo.Y), c)
		}
	}

	v.rec.Each(v.env, func(_ int, inst renderer.Instance) {
		c := assetColor(inst.Asset)
		box, ok := v.footprints[inst.Asset]
		if !ok {
			rl.DrawCircleV(v.toScreen(inst.Transform.Translation), 3, c)
			return
		}
		corners := [4]rl.Vector2{
			v.toScreen(inst.Transform.Point(r3.Vec{X: box.Min.X, Z: box.Min.Z})),
			v.toScreen(inst.Transform.Point(r3.Vec{X: box.Max.X, Z: box.Min.Z})),
			v.toScreen(inst.Transform.Point(r3.Vec{X: box.Max.X, Z: box.Max.Z})),
			v.toScreen(inst.Transform.Point(r3.Vec{X: box.Min.X, Z: box.Max.Z})),
		}
		for i := range corners {
			rl.DrawLineEx(corners[i], corners[(i+1)%4], 2, c)
		}
	})

	if cam := v.rec.Camera(v.env); cam.HFOV > 0 {
		p := cam.Transform.Translation
		fwd := cam.Transform.Vector(r3.Vec{Z: -1})
		rl.DrawLineEx(v.toScreen(p), v.toScreen(r3.Add(p, r3.Scale(0.3, fwd))), 2, v.renderer.Theme.CameraMarker)
	}

	screenW := int32(rl.GetScreenWidth())
	screenH := int32(rl.GetScreenHeight())
	data.Env = v.env
	data.NumEnvs = v.rec.NumEnvs()
	data.Paused = v.paused
	v.hud.Draw(data, screenW)
	v.drawControls(screenH)
	v.hud.DrawControls(screenH, controlsLegend)
}

// drawControls draws the raygui button row above the legend.
func (v *Viewer) drawControls(screenH int32) {
	y := float32(screenH - 65)
	label := "Pause"
	if v.paused {
		label = "Resume"
	}
	if gui.Button(rl.Rectangle{X: 10, Y: y, Width: 90, Height: 30}, label) {
		v.paused = !v.paused
	}
	if gui.Button(rl.Rectangle{X: 110, Y: y, Width: 90, Height: 30}, "Step") {
		v.paused = true
		v.stepOnce = true
	}
	if gui.Button(rl.Rectangle{X: 210, Y: y, Width: 40, Height: 30}, "<") {
		v.selectEnv(-1)
	}
	gui.Label(rl.Rectangle{X: 260, Y: y, Width: 80, Height: 30}, fmt.Sprintf("env %d", v.env))
	if gui.Button(rl.Rectangle{X: 340, Y: y, Width: 40, Height: 30}, ">") {
		v.selectEnv(1)
	}
}

// assetColor picks a stable color per asset name.
func assetColor(asset string) rl.Color {
	h := fnv.New32a()
	h.Write([]byte(asset))
	n := h.Sum32()
	return rl.Color{R: 80 + uint8(n)%160, G: 80 + uint8(n>>8)%160, B: 80 + uint8(n>>16)%160, A: 255}
}
