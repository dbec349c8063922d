// Package timestep measures the elapsed time between host loop iterations.
//
// A Timestep is owned by the goroutine driving the loop. Update() samples the
// monotonic clock; ForceUpdate() advances the time point by a fixed delta so
// tests (and replays) can drive timers with simulated time.
package timestep

import "time"

// statWindow is the number of frames averaged by StabilizedFPS.
const statWindow = 20

type Timestep struct {
	last  time.Time
	delta time.Duration
	frame uint64

	fps [statWindow]float64
	idx int
	n   int
}

// New returns a Timestep anchored at the current instant. The first frame is
// recorded immediately with a near-zero delta.
func New() *Timestep {
	ts := &Timestep{last: time.Now()}
	ts.Update()
	return ts
}

// Update records a new frame using the wall clock.
func (ts *Timestep) Update() {
	now := time.Now()
	ts.delta = now.Sub(ts.last)
	ts.last = now
	ts.record()
}

// ForceUpdate records a new frame whose duration is d, regardless of the clock.
func (ts *Timestep) ForceUpdate(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ts.delta = d
	ts.last = ts.last.Add(d)
	ts.record()
}

func (ts *Timestep) record() {
	ts.fps[ts.idx] = ts.FPS()
	ts.idx = (ts.idx + 1) % statWindow
	if ts.n < statWindow {
		ts.n++
	}
	ts.frame++
}

// Delta is the duration of the last frame.
func (ts *Timestep) Delta() time.Duration { return ts.delta }

// TimePoint is the instant at which the last frame was recorded.
func (ts *Timestep) TimePoint() time.Time { return ts.last }

// FrameNumber counts recorded frames, starting at 1 after New().
func (ts *Timestep) FrameNumber() uint64 { return ts.frame }

func (ts *Timestep) Seconds() float64 { return ts.delta.Seconds() }

func (ts *Timestep) Milliseconds() float64 {
	return float64(ts.delta.Microseconds()) / 1000
}

// FPS is the instantaneous frame rate derived from the last delta.
// A zero delta reports 0 rather than +Inf.
func (ts *Timestep) FPS() float64 {
	if ts.delta <= 0 {
		return 0
	}
	return float64(time.Second) / float64(ts.delta)
}

// StabilizedFPS averages FPS over the last 20 frames.
func (ts *Timestep) StabilizedFPS() float64 {
	if ts.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < ts.n; i++ {
		sum += ts.fps[i]
	}
	return sum / float64(ts.n)
}
