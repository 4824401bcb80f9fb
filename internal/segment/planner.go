package segment

import "math"

// Defaults for window planning. The 2 second overlap keeps words spoken
// across a boundary intact in at least one adjacent window.
const (
	DefaultWindowSeconds  = 30.0
	DefaultOverlapSeconds = 2.0
)

// Window is one time-bounded slice of the source audio, in seconds.
type Window struct {
	Index int
	Start float64
	End   float64
}

// Duration returns the window length in seconds.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Planner computes overlapping windows over an audio duration.
type Planner struct {
	WindowSeconds  float64
	OverlapSeconds float64
}

// NewPlanner returns a planner with the given window length, falling
// back to defaults for non-positive values.
func NewPlanner(windowSeconds, overlapSeconds float64) Planner {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	if overlapSeconds < 0 {
		overlapSeconds = DefaultOverlapSeconds
	}
	return Planner{WindowSeconds: windowSeconds, OverlapSeconds: overlapSeconds}
}

// Plan returns ceil(duration/window) windows. Window i spans
// [max(0, i*W - O), min((i+1)*W, duration)] with the overlap applied to
// every window after the first.
func (p Planner) Plan(totalSeconds float64) []Window {
	if totalSeconds <= 0 {
		return nil
	}

	count := int(math.Ceil(totalSeconds / p.WindowSeconds))
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * p.WindowSeconds
		if i > 0 {
			start -= p.OverlapSeconds
		}
		if start < 0 {
			start = 0
		}
		end := math.Min(float64(i+1)*p.WindowSeconds, totalSeconds)
		windows = append(windows, Window{Index: i, Start: start, End: end})
	}
	return windows
}
