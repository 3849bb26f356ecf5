package timeline

import "math"

// BaseWidthPx is the unzoomed width of a timeline lane.
const BaseWidthPx = 800.0

// Mapper converts between timeline milliseconds and lane pixels for a
// fixed duration and zoom. A zero or negative duration (or zoom) maps
// everything to zero instead of producing NaN/Inf.
type Mapper struct {
	DurationMs int64
	Zoom       float64
	BaseWidth  float64
}

func NewMapper(durationMs int64, zoom float64) Mapper {
	return Mapper{DurationMs: durationMs, Zoom: zoom, BaseWidth: BaseWidthPx}
}

func (m Mapper) base() float64 {
	if m.BaseWidth <= 0 {
		return BaseWidthPx
	}
	return m.BaseWidth
}

// PixelsPerMs is the lane scale, or 0 when the mapper is degenerate.
func (m Mapper) PixelsPerMs() float64 {
	if m.DurationMs <= 0 || m.Zoom <= 0 {
		return 0
	}
	return m.base() * m.Zoom / float64(m.DurationMs)
}

// Width is the rendered lane width in pixels.
func (m Mapper) Width() float64 {
	if m.PixelsPerMs() == 0 {
		return 0
	}
	return m.base() * m.Zoom
}

func (m Mapper) TimeToPixel(ms int64) float64 {
	return float64(ms) * m.PixelsPerMs()
}

// PixelToTime rounds half up (-0.5 goes to 0, 0.5 goes to 1).
func (m Mapper) PixelToTime(px float64) int64 {
	ppm := m.PixelsPerMs()
	if ppm == 0 {
		return 0
	}
	return roundHalfUp(px / ppm)
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
