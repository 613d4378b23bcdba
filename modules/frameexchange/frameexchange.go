// Package frameexchange hands decoded frames from the capture goroutine to
// the render goroutine through a single-slot mailbox.
//
// Philosophy: "Drop frames, never queue. Latest wins."
//
// Design:
//   - Non-blocking Publish() (pointer swap under a mutex)
//   - Non-blocking Take() (remove-and-return, nothing if nothing new)
//   - Optional blocking Next(ctx) for consumers without their own cadence
//   - Ownership transfer: a published *frame.Image belongs to whoever takes it
//
// The render loop is expected to call Take() once per display tick. Frames
// published faster than the renderer consumes them are overwritten and
// counted as drops.
package frameexchange

import (
	"context"

	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/frameexchange/internal"
)

// Exchange is the public interface for the producer/consumer handoff.
//
// Lifecycle: New() → Publish()/Take() from two goroutines → Close()
//
// Implementation is in internal/slot.go (hidden from clients).
type Exchange interface {
	// Publish replaces the held image with img (non-blocking).
	//
	// Semantics:
	//   - Overwrite policy: an unconsumed image is replaced, not queued
	//   - Drop tracking: Stats().Dropped increments on overwrite
	//   - No-op after Close()
	//
	// Contract:
	//   - img MUST NOT be nil
	//   - img MUST NOT be modified by the producer after Publish
	Publish(img *frame.Image)

	// Take removes and returns the held image, if any (non-blocking).
	//
	// Returns (nil, false) when nothing was published since the last Take,
	// or after Close().
	Take() (*frame.Image, bool)

	// Next blocks until an image is available, the exchange is closed, or
	// ctx is done. It has the same remove-on-read semantics as Take.
	//
	// Returns ErrClosed after Close() and ctx.Err() on cancellation.
	Next(ctx context.Context) (*frame.Image, error)

	// Stats returns a snapshot of the exchange counters.
	Stats() Stats

	// Close releases any held image and wakes blocked Next callers.
	// Idempotent.
	Close()
}

// Stats is re-exported from internal package to avoid import cycles.
// See internal/types.go for full documentation.
type Stats = internal.Stats

// ErrClosed is returned by Next after Close.
var ErrClosed = internal.ErrClosed

// New creates an empty exchange.
func New() Exchange {
	return internal.NewSlot()
}
