package camera

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)

	// Should be centered on world
	if cam.X != 0 || cam.Z != 0 {
		t.Errorf("expected camera at (0, 0), got (%f, %f)", cam.X, cam.Z)
	}
	// min(1000/10, 800/10)
	if cam.Zoom != 80 {
		t.Errorf("expected zoom 80, got %f", cam.Zoom)
	}
}

func TestWorldToScreenCentered(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)

	sx, sy := cam.WorldToScreen(0, 0)
	if math.Abs(float64(sx-500)) > 0.01 || math.Abs(float64(sy-400)) > 0.01 {
		t.Errorf("expected screen center (500, 400), got (%f, %f)", sx, sy)
	}

	// +X is right, +Z is down.
	sx, sy = cam.WorldToScreen(1, 1)
	if sx <= 500 || sy <= 400 {
		t.Errorf("(1, 1) mapped to (%f, %f), want right of and below center", sx, sy)
	}
}

func TestScreenToWorldRoundtrip(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)
	cam.SetZoom(150)
	cam.CenterOn(1.5, -2)

	testCases := []struct{ sx, sy float32 }{
		{500, 400}, // center
		{100, 100}, // top-left
		{900, 700}, // near bottom-right
	}

	for _, tc := range testCases {
		wx, wz := cam.ScreenToWorld(tc.sx, tc.sy)
		sx, sy := cam.WorldToScreen(wx, wz)
		if math.Abs(float64(sx-tc.sx)) > 0.01 || math.Abs(float64(sy-tc.sy)) > 0.01 {
			t.Errorf("roundtrip failed: (%f,%f) -> (%f,%f) -> (%f,%f)",
				tc.sx, tc.sy, wx, wz, sx, sy)
		}
	}
}

func TestPanClamps(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float32
		wantX  float32
		wantZ  float32
	}{
		{"small", 80, -160, 1, -2},
		{"past right edge", 8000, 0, 5, 0},
		{"past top edge", 0, -8000, 0, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := New(1000, 800, -5, -5, 5, 5)
			cam.Pan(tt.dx, tt.dy)
			if math.Abs(float64(cam.X-tt.wantX)) > 1e-4 || math.Abs(float64(cam.Z-tt.wantZ)) > 1e-4 {
				t.Errorf("Pan(%v, %v) -> (%f, %f), want (%f, %f)", tt.dx, tt.dy, cam.X, cam.Z, tt.wantX, tt.wantZ)
			}
		})
	}
}

func TestZoomClamp(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)

	cam.SetZoom(1) // Below min
	if cam.Zoom != cam.MinZoom {
		t.Errorf("expected zoom clamped to %f, got %f", cam.MinZoom, cam.Zoom)
	}

	cam.SetZoom(1e6) // Above max
	if cam.Zoom != cam.MaxZoom {
		t.Errorf("expected zoom clamped to %f, got %f", cam.MaxZoom, cam.Zoom)
	}
}

func TestResizeRaisesZoom(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)
	cam.Resize(2000, 1600)
	if cam.MinZoom != 160 {
		t.Errorf("expected MinZoom 160, got %f", cam.MinZoom)
	}
	if cam.Zoom != 160 {
		t.Errorf("expected zoom raised to 160, got %f", cam.Zoom)
	}
}

func TestIsVisible(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)
	cam.SetZoom(200)

	// Visible half extents are 2.5 x 2.
	if !cam.IsVisible(0, 0, 0.1) {
		t.Error("center should be visible")
	}
	if cam.IsVisible(4, 4, 0.1) {
		t.Error("far point should not be visible")
	}
	if !cam.IsVisible(3, 0, 1) {
		t.Error("edge point with large radius should be visible")
	}
}

func TestReset(t *testing.T) {
	cam := New(1000, 800, -5, -5, 5, 5)
	cam.CenterOn(2, 2)
	cam.SetZoom(300)

	cam.Reset()

	if cam.X != 0 || cam.Z != 0 {
		t.Errorf("expected position (0, 0), got (%f, %f)", cam.X, cam.Z)
	}
	if cam.Zoom != cam.MinZoom {
		t.Errorf("expected zoom %f, got %f", cam.MinZoom, cam.Zoom)
	}
}
