// Package camera provides a top-down 2D camera for the viewer.
//
// World coordinates are the ground plane in meters (X right, Z down the
// screen). The view is bounded: the camera center never leaves the world
// rectangle.
package camera

// Camera controls the viewport into one environment's ground plane.
type Camera struct {
	// Position is the camera center in world coordinates
	X, Z float32

	// Zoom is pixels per meter
	Zoom float32

	// Viewport dimensions (screen size)
	ViewportW, ViewportH float32

	// World bounds
	MinX, MinZ, MaxX, MaxZ float32

	// Zoom constraints
	MinZoom, MaxZoom float32
}

// New creates a camera centered on the world, zoomed so the whole world
// fits the viewport.
func New(viewportW, viewportH, minX, minZ, maxX, maxZ float32) *Camera {
	c := &Camera{
		ViewportW: viewportW,
		ViewportH: viewportH,
		MinX:      minX,
		MinZ:      minZ,
		MaxX:      maxX,
		MaxZ:      maxZ,
	}
	c.MinZoom = c.fitZoom()
	c.MaxZoom = c.MinZoom * 16
	c.Reset()
	return c
}

// fitZoom is the zoom at which the whole world is visible.
func (c *Camera) fitZoom() float32 {
	zx := c.ViewportW / (c.MaxX - c.MinX)
	zz := c.ViewportH / (c.MaxZ - c.MinZ)
	if zz < zx {
		return zz
	}
	return zx
}

// WorldToScreen converts world coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wz float32) (sx, sy float32) {
	sx = c.ViewportW/2 + (wx-c.X)*c.Zoom
	sy = c.ViewportH/2 + (wz-c.Z)*c.Zoom
	return sx, sy
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float32) (wx, wz float32) {
	wx = c.X + (sx-c.ViewportW/2)/c.Zoom
	wz = c.Z + (sy-c.ViewportH/2)/c.Zoom
	return wx, wz
}

// IsVisible returns true if a circle at (wx, wz) with given radius
// could be visible on screen (conservative check for culling).
func (c *Camera) IsVisible(wx, wz, radius float32) bool {
	halfW := c.ViewportW/(2*c.Zoom) + radius
	halfH := c.ViewportH/(2*c.Zoom) + radius
	return absf(wx-c.X) <= halfW && absf(wz-c.Z) <= halfH
}

// Resize updates viewport dimensions and recalculates zoom constraints.
func (c *Camera) Resize(viewportW, viewportH float32) {
	if viewportW == c.ViewportW && viewportH == c.ViewportH {
		return
	}
	c.ViewportW = viewportW
	c.ViewportH = viewportH
	c.MinZoom = c.fitZoom()
	if c.Zoom < c.MinZoom {
		c.Zoom = c.MinZoom
	}
}

// Pan moves the camera by the given delta in screen pixels.
func (c *Camera) Pan(dx, dy float32) {
	c.X = clamp(c.X+dx/c.Zoom, c.MinX, c.MaxX)
	c.Z = clamp(c.Z+dy/c.Zoom, c.MinZ, c.MaxZ)
}

// CenterOn moves the camera center to a world point inside the bounds.
func (c *Camera) CenterOn(wx, wz float32) {
	c.X = clamp(wx, c.MinX, c.MaxX)
	c.Z = clamp(wz, c.MinZ, c.MaxZ)
}

// SetZoom sets the zoom level, clamped to min/max.
func (c *Camera) SetZoom(zoom float32) {
	c.Zoom = clamp(zoom, c.MinZoom, c.MaxZoom)
}

// ZoomBy multiplies the current zoom by the given factor.
func (c *Camera) ZoomBy(factor float32) {
	c.SetZoom(c.Zoom * factor)
}

// Reset returns the camera to the world center at fit zoom.
func (c *Camera) Reset() {
	c.X = (c.MinX + c.MaxX) / 2
	c.Z = (c.MinZ + c.MaxZ) / 2
	c.Zoom = c.MinZoom
}

// VisibleWorldBounds returns the world-coordinate bounds of the visible area.
func (c *Camera) VisibleWorldBounds() (minX, minZ, maxX, maxZ float32) {
	halfW := c.ViewportW / (2 * c.Zoom)
	halfH := c.ViewportH / (2 * c.Zoom)
	return c.X - halfW, c.Z - halfH, c.X + halfW, c.Z + halfH
}

// absf returns the absolute value of a float32.
func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// clamp restricts a value to a range.
func clamp(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
