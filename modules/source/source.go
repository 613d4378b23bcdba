// Package source defines the capability a capture loop needs from a network
// video source: discover candidates, connect to one, and poll it for raw
// frames.
//
// Lifecycle:
//
//	Provider.Open()      → Finder   (discovery session, extra targets)
//	Finder.Sources()     → []Descriptor
//	Provider.Connect(d)  → Receiver (one connected stream)
//	Receiver.Poll()      → *frame.RawFrame | (nil, nil) on timeout | error
//
// Implementations:
//   - source/gstreamer: RTSP/HTTP/file URIs decoded by GStreamer
//   - source/synthetic: generated test patterns with fault injection
package source

import (
	"context"
	"errors"
	"time"

	"github.com/e7canasta/orion-viewer/modules/frame"
)

// Transport errors. Receivers and providers wrap these so the capture loop
// can tell a lost connection from everything else with errors.Is.
var (
	ErrSourceUnavailable = errors.New("source: unavailable")
	ErrConnectionLost    = errors.New("source: connection lost")
)

// Descriptor identifies one discovered source.
type Descriptor struct {
	// Name is the human-readable source name matched against the target name
	Name string
	// URL is the location a provider connects to
	URL string
	// Address is the host:port the source was found at ("" for local sources)
	Address string
	// Local is true for sources found on this machine or in the static catalog
	Local bool
}

// Provider opens discovery sessions and connects to discovered sources.
type Provider interface {
	// Open starts a discovery session. extra lists additional hosts or
	// subnets to probe beyond local discovery. Failure here is fatal to
	// the caller: no discovery is possible at all.
	Open(ctx context.Context, extra []Target) (Finder, error)

	// Connect opens a receiver for d. Returns an error wrapping
	// ErrSourceUnavailable if the source cannot be reached.
	Connect(ctx context.Context, d Descriptor) (Receiver, error)
}

// Finder is a discovery session.
type Finder interface {
	// Sources waits up to wait for the current candidate list. An empty
	// list with a nil error means nothing was found in the window.
	Sources(ctx context.Context, wait time.Duration) ([]Descriptor, error)

	// Close ends the session. Idempotent.
	Close() error
}

// Receiver is a connected stream.
type Receiver interface {
	// Poll waits up to timeout for the next frame. It returns (nil, nil) on
	// timeout, which is not an error. A broken stream returns an error
	// wrapping ErrConnectionLost.
	Poll(ctx context.Context, timeout time.Duration) (*frame.RawFrame, error)

	// Close releases the stream. Idempotent.
	Close() error
}

// Select picks the source to connect to. With an empty target the first
// candidate wins; otherwise the name must match exactly.
func Select(candidates []Descriptor, target string) (Descriptor, bool) {
	for _, d := range candidates {
		if target == "" || d.Name == target {
			return d, true
		}
	}
	return Descriptor{}, false
}
