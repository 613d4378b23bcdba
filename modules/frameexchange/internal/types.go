package internal

import (
	"errors"
	"time"
)

// ErrClosed is returned by Next once the slot has been closed.
var ErrClosed = errors.New("frameexchange: closed")

// Stats is a snapshot of exchange operational state.
type Stats struct {
	// Published counts every Publish call accepted before Close.
	Published uint64

	// Taken counts images handed to a consumer (Take or Next).
	Taken uint64

	// Dropped counts images overwritten before anyone took them.
	// Published == Taken + Dropped (+1 if an image is currently held).
	Dropped uint64

	// LastPublishedSeq is the frame sequence number of the latest Publish.
	LastPublishedSeq uint64

	// LastTakenSeq is the frame sequence number of the latest Take.
	LastTakenSeq uint64

	// LastTakenAt is when a consumer last received an image (zero if never).
	// Used by the render side to detect a stalled source.
	LastTakenAt time.Time

	// Pending is true when an unconsumed image is held.
	Pending bool
}
