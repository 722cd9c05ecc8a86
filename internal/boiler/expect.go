package boiler

// Epsilon absorbs floating-point slack when widening a prediction window or
// matching a measured level against one.
const Epsilon = 0.3

// Window is the predicted [Lo, Hi] water level for the next tick given the
// commands just issued. Known is false before the first prediction is seeded;
// an emergency stop leaves the last window in place.
type Window struct {
	Lo    float64
	Hi    float64
	Known bool
}

// Contains reports whether a measured level falls inside the window.
func (w Window) Contains(level float64) bool {
	return w.Known && level >= w.Lo && level <= w.Hi
}

// Mid returns the window's midpoint.
func (w Window) Mid() float64 { return (w.Lo + w.Hi) / 2 }
