package timeline

import (
	"fmt"
	"math"
)

// Candidate major marker spacings, smallest first.
var markerIntervals = []int64{
	100, 250, 500,
	1000, 2500, 5000, 10000, 15000, 30000,
	60000, 120000, 300000, 600000, 900000, 1800000,
}

const (
	targetMarkerSpacingPx = 100.0
	minMinorSpacingPx     = 20.0
)

// Marker is one ruler tick. Only major ticks carry a label.
type Marker struct {
	TimeMs int64   `json:"time_ms"`
	X      float64 `json:"x"`
	Major  bool    `json:"major"`
	Label  string  `json:"label,omitempty"`
}

// MarkerInterval picks the smallest spacing that keeps major ticks at
// least ~100px apart at the current zoom.
func (m Mapper) MarkerInterval() int64 {
	ppm := m.PixelsPerMs()
	if ppm == 0 {
		return 0
	}
	target := targetMarkerSpacingPx / ppm

	best := markerIntervals[0]
	for _, iv := range markerIntervals {
		best = iv
		if float64(iv) >= target {
			break
		}
	}
	return best
}

// Markers returns the ruler for the whole lane: labelled major ticks and,
// when there is room, three unlabelled minor ticks between each pair.
func (m Mapper) Markers() []Marker {
	interval := m.MarkerInterval()
	if interval == 0 {
		return nil
	}

	var out []Marker
	for t := int64(0); t <= m.DurationMs; t += interval {
		out = append(out, Marker{
			TimeMs: t,
			X:      m.TimeToPixel(t),
			Major:  true,
			Label:  FormatTime(t, m.DurationMs),
		})
	}

	minor := float64(interval) / 4
	if minor*m.PixelsPerMs() < minMinorSpacingPx {
		return out
	}
	for k := 1; ; k++ {
		if k%4 == 0 {
			continue
		}
		t := int64(math.Round(float64(k) * minor))
		if t >= m.DurationMs {
			break
		}
		out = append(out, Marker{TimeMs: t, X: m.TimeToPixel(t)})
	}
	return out
}

// FormatTime renders a playhead position. Long media drop precision:
// an hour or more shows H:MM:SS.cc, ten minutes or more shows M:SS,
// anything shorter MM:SS.cc.
func FormatTime(ms, durationMs int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	centis := (ms % 1000) / 10

	switch {
	case durationMs >= 3600000:
		return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, seconds, centis)
	case durationMs >= 600000:
		return fmt.Sprintf("%d:%02d", minutes, seconds)
	default:
		return fmt.Sprintf("%02d:%02d.%02d", minutes, seconds, centis)
	}
}
