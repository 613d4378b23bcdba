package streamcapture

import (
	"time"

	"github.com/e7canasta/orion-viewer/modules/stream-capture/internal/fpsstats"
)

// FPSStats summarizes capture rate and stability.
//
// Stable means FPS stddev < 15% of mean AND mean jitter < 20% of the
// expected inter-frame interval.
type FPSStats = fpsstats.Stats

// CalculateFPSStats computes FPS statistics from ordered frame arrival times
// observed over totalDuration.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *FPSStats {
	return fpsstats.Calculate(frameTimes, totalDuration)
}
