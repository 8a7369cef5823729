package ui

import (
	"fmt"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/batchsim/sim"
	"github.com/pthm-cable/batchsim/telemetry"
)

// HUDData holds all the data needed to render the HUD.
type HUDData struct {
	Title          string
	Step           int
	Env            int
	NumEnvs        int
	Paused         bool
	FPS            int32
	StepsPerSecond float64
	State          sim.EnvironmentState
	Window         *telemetry.WindowStats // nil before the first flush
}

// HUD renders the heads-up display.
type HUD struct {
	renderer *Renderer
}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{renderer: NewRenderer()}
}

// Draw renders the title line and the env panel anchored top right.
func (h *HUD) Draw(data HUDData, screenWidth int32) {
	rl.DrawText(data.Title, 10, 10, 20, rl.White)
	rl.DrawText(
		fmt.Sprintf("Step: %d | Env: %d/%d | FPS: %d | %.0f steps/s", data.Step, data.Env, data.NumEnvs, data.FPS, data.StepsPerSecond),
		10, 35, 16, rl.LightGray,
	)
	if data.Paused {
		rl.DrawText("PAUSED", 10, 55, 16, rl.Yellow)
	}

	r := h.renderer
	const width = 280
	x := screenWidth - width - 10
	height := int32(12) * r.Theme.LineHeight
	if data.Window != nil {
		height += 6 * r.Theme.LineHeight
	}
	r.DrawPanel(x, 10, width, height)

	x += r.Theme.Padding
	y := 10 + r.Theme.Padding
	st := data.State
	y = r.DrawSectionHeader(x, y, "Environment")
	y = r.DrawLabelValue(x, y, "Episode", fmt.Sprintf("%d (step %d)", st.EpisodeIdx, st.EpisodeStepIdx))
	y = r.DrawLabelValue(x, y, "Robot", fmt.Sprintf("%.2f, %.2f", st.RobotPos.X, st.RobotPos.Z))
	y = r.DrawLabelValue(x, y, "End effector", fmt.Sprintf("%.2f, %.2f, %.2f", st.EEPos.X, st.EEPos.Y, st.EEPos.Z))
	y = r.DrawLabelValue(x, y, "Holding", heldLabel(st.HeldObjIdx))
	y = r.DrawLabelValue(x, y, "Collided", fmt.Sprint(st.DidCollide))
	if !math.IsNaN(st.DropHeight) {
		y = r.DrawLabelValue(x, y, "Drop height", fmt.Sprintf("%.3f", st.DropHeight))
	}
	for i, q := range st.RobotJointPositionsNormalized {
		if i >= 4 {
			break
		}
		y = r.DrawBar(x, y, fmt.Sprintf("Joint %d", i), float32(q), width-2*r.Theme.Padding)
	}

	if w := data.Window; w != nil {
		y += 4
		y = r.DrawSectionHeader(x, y, fmt.Sprintf("Window to step %d", w.WindowEndStep))
		y = r.DrawBar(x, y, "Grip success", float32(w.GripSuccessRate), width-2*r.Theme.Padding)
		y = r.DrawBar(x, y, "Collision", float32(w.CollisionFraction), width-2*r.Theme.Padding)
		y = r.DrawLabelValue(x, y, "Drops/episode", fmt.Sprintf("%.2f", w.DropsPerEpisode))
		r.DrawLabelValue(x, y, "Episode length", fmt.Sprintf("%.0f", w.EpisodeLengthMean))
	}
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

func heldLabel(idx int) string {
	if idx < 0 {
		return "-"
	}
	return fmt.Sprintf("object %d", idx)
}
