// Package reconnect implements the capped exponential backoff used between
// connection attempts.
package reconnect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff reconnection.
// Attempts are unlimited; only the delay grows.
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"` // first retry delay (default: 1 second)
	MaxDelay     time.Duration `yaml:"max_delay"`     // retry delay cap (default: 30 seconds)
	Multiplier   float64       `yaml:"multiplier"`    // growth per attempt (default: 2)
}

// DefaultConfig returns default reconnection configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.InitialDelay == 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// Validate rejects negative delays, a cap below the initial delay and a
// shrinking multiplier.
func (c Config) Validate() error {
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("reconnect: delays must not be negative")
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("reconnect: max delay %v below initial delay %v", c.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("reconnect: multiplier %.2f must be >= 1", c.Multiplier)
	}
	return nil
}

// Backoff calculates the delay before the given attempt (1-based).
//
// Formula: delay = InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
//
// Example with default config (1s, 30s, x2):
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 6+: 30s
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

// State tracks reconnection attempts across connections.
type State struct {
	mu             sync.Mutex
	currentRetries int

	reconnects atomic.Uint32 // total attempts, never reset
}

// Next records a failed attempt and returns how long to wait before the
// next one.
func (s *State) Next(cfg Config) (attempt int, delay time.Duration) {
	s.mu.Lock()
	s.currentRetries++
	attempt = s.currentRetries
	s.mu.Unlock()

	s.reconnects.Add(1)
	return attempt, Backoff(attempt, cfg)
}

// Reset restarts the schedule after a connection produced a frame.
func (s *State) Reset() {
	s.mu.Lock()
	had := s.currentRetries
	s.currentRetries = 0
	s.mu.Unlock()

	if had > 0 {
		slog.Debug("reconnect: state reset", "after_attempts", had)
	}
}

// CurrentRetries returns attempts since the last Reset.
func (s *State) CurrentRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRetries
}

// Reconnects returns the total number of attempts.
func (s *State) Reconnects() uint32 {
	return s.reconnects.Load()
}

// Wait sleeps for d or until ctx is cancelled. It reports whether the full
// delay elapsed.
func Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
