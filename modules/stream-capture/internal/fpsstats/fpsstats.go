// Package fpsstats measures capture rate and its stability from frame
// arrival times.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of mean FPS (30 FPS mean → stable if stddev < 4.5 FPS).
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected interval (30 FPS → stable if jitter < 6.6ms).
	jitterStabilityThreshold = 0.20
)

// Stats summarizes frame arrival over a window.
type Stats struct {
	// FramesReceived is the number of frames in the window
	FramesReceived int
	// Duration is the window length
	Duration time.Duration
	// FPSMean is frames per second over Duration
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true when both FPS deviation and jitter are under threshold
	IsStable bool
	// JitterMean is the mean deviation from the expected interval, in seconds
	JitterMean float64
	// JitterStdDev is the standard deviation of jitter, in seconds
	JitterStdDev float64
	// JitterMax is the largest deviation from the expected interval, in seconds
	JitterMax float64
}

// Calculate computes Stats from ordered arrival times observed over
// totalDuration.
//
// Stability: FPS stddev < 15% of mean AND mean jitter < 20% of the expected
// interval. Fewer than two intervals are never stable.
func Calculate(frameTimes []time.Time, totalDuration time.Duration) *Stats {
	n := len(frameTimes)
	stats := &Stats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}
	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			instant = append(instant, 1.0/iv)
		}
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	for _, fps := range instant {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = deviation(instant, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var sum float64
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		sum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = sum / float64(len(jitters))
	stats.JitterStdDev = deviation(jitters, stats.JitterMean)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = len(instant) >= 2 && fpsStable && jitterStable

	return stats
}

// deviation is the population standard deviation of xs around mean.
func deviation(xs []float64, mean float64) float64 {
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// Window keeps the most recent arrival times in a ring buffer.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow returns a window holding up to size arrivals.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records an arrival.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.next == 0 {
		w.full = true
	}
	w.mu.Unlock()
}

// Reset forgets all arrivals.
func (w *Window) Reset() {
	w.mu.Lock()
	w.next = 0
	w.full = false
	w.mu.Unlock()
}

// Stats computes Stats over the held arrivals, measured up to now.
func (w *Window) Stats(now time.Time) *Stats {
	w.mu.Lock()
	var ordered []time.Time
	if w.full {
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append(ordered, w.times[:w.next]...)
	}
	w.mu.Unlock()

	if len(ordered) == 0 {
		return &Stats{}
	}
	return Calculate(ordered, now.Sub(ordered[0]))
}
