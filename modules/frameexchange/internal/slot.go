package internal

import (
	"context"
	"sync"
	"time"

	"github.com/e7canasta/orion-viewer/modules/frame"
)

// Slot is a single-image mailbox with overwrite-on-publish and
// take-on-read semantics.
//
// Thread-safety:
//   - All fields protected by mu
//   - The critical section is a pointer swap plus counters; no call made
//     while holding mu can block
//
// ready has capacity 1 and carries a wakeup token for Next. Publish leaves a
// token when none is pending; Next drains it before inspecting the slot, so a
// stale token only costs one extra loop iteration.
type Slot struct {
	mu    sync.Mutex
	img   *frame.Image // nil = consumed or never published
	ready chan struct{}
	done  chan struct{}

	published    uint64
	taken        uint64
	dropped      uint64
	lastPubSeq   uint64
	lastTakenSeq uint64
	lastTakenAt  time.Time

	closed bool
}

// NewSlot returns an empty, open slot.
func NewSlot() *Slot {
	return &Slot{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Publish overwrites the held image (implements Exchange.Publish).
//
// Algorithm:
//  1. Lock
//  2. If closed, return (frame discarded)
//  3. If previous image unconsumed, count a drop
//  4. Overwrite slot (latest wins)
//  5. Leave a wakeup token for Next (non-blocking send)
//  6. Unlock
func (s *Slot) Publish(img *frame.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.img != nil {
		s.dropped++
	}

	s.img = img
	s.published++
	s.lastPubSeq = img.Seq

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Take removes and returns the held image (implements Exchange.Take).
func (s *Slot) Take() (*frame.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.takeLocked()
}

func (s *Slot) takeLocked() (*frame.Image, bool) {
	if s.closed || s.img == nil {
		return nil, false
	}

	img := s.img
	s.img = nil
	s.taken++
	s.lastTakenSeq = img.Seq
	s.lastTakenAt = time.Now()

	return img, true
}

// Next blocks until an image can be taken (implements Exchange.Next).
func (s *Slot) Next(ctx context.Context) (*frame.Image, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		img, ok := s.takeLocked()
		s.mu.Unlock()

		if ok {
			return img, nil
		}

		select {
		case <-s.ready:
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the slot closed and drops any held image (implements Exchange.Close).
//
// Idempotent: subsequent calls are no-ops.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.img = nil
	close(s.done)
}

// Stats returns a consistent snapshot (implements Exchange.Stats).
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Published:        s.published,
		Taken:            s.taken,
		Dropped:          s.dropped,
		LastPublishedSeq: s.lastPubSeq,
		LastTakenSeq:     s.lastTakenSeq,
		LastTakenAt:      s.lastTakenAt,
		Pending:          s.img != nil,
	}
}
