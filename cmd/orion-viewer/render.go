package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-viewer/internal/snapshot"
	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/frameexchange"
)

// stallAfter is how long without a new frame before the view is reported
// as stalled.
const stallAfter = 2 * time.Second

// renderer is the headless display side. It takes at most one frame per
// tick and keeps the most recent one as the displayed image.
type renderer struct {
	exchange frameexchange.Exchange
	saver    *snapshot.Saver
	interval time.Duration
	delay    *delayQueue

	mu        sync.Mutex
	current   *frame.Image
	presented uint64
	lastNewAt time.Time
	stalled   bool
	waiting   bool
}

// renderStats describes the display side.
type renderStats struct {
	Presented  uint64
	Resolution string
	LastSeq    uint64
	Buffered   int
	Waiting    bool
	Stalled    bool
}

func newRenderer(exchange frameexchange.Exchange, saver *snapshot.Saver, fps float64) *renderer {
	return &renderer{
		exchange: exchange,
		saver:    saver,
		interval: time.Duration(float64(time.Second) / fps),
		waiting:  true,
	}
}

// withDelay holds back frames frames before display. Zero keeps the
// latest-wins behavior.
func (r *renderer) withDelay(frames int) *renderer {
	if frames > 0 {
		r.delay = newDelayQueue(frames)
	}
	return r
}

// Run ticks until ctx is done or stop is closed.
func (r *renderer) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("viewer: waiting for source", "delay_frames", r.delay.depth())

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *renderer) tick(now time.Time) {
	img, ok := r.exchange.Take()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ok && r.delay != nil {
		r.delay.push(img)
		img, ok = r.delay.pop()
		if !ok {
			// Filling: frames are arriving, just not shown yet.
			r.lastNewAt = now
			return
		}
	}

	if !ok {
		if r.current != nil && !r.stalled && now.Sub(r.lastNewAt) > stallAfter {
			r.stalled = true
			slog.Warn("viewer: no new frames",
				"since", now.Sub(r.lastNewAt).Round(time.Millisecond),
				"last_seq", r.current.Seq,
				"last_timecode", r.current.Timecode,
			)
		}
		return
	}

	if r.waiting {
		r.waiting = false
		slog.Info("viewer: first frame",
			"source", img.SourceName,
			"width", img.Width,
			"height", img.Height,
			"timecode", img.Timecode,
			"trace_id", img.TraceID,
		)
	} else if r.current.Width != img.Width || r.current.Height != img.Height {
		slog.Info("viewer: resolution changed",
			"from", resolution(r.current),
			"to", resolution(img),
		)
	}
	if r.stalled {
		r.stalled = false
		slog.Info("viewer: frames resumed", "seq", img.Seq)
	}

	r.current = img
	r.presented++
	r.lastNewAt = now
	slog.Debug("viewer: frame presented",
		"seq", img.Seq,
		"timecode", img.Timecode,
		"buffered", r.delay.len(),
	)

	if r.saver != nil {
		if _, err := r.saver.Offer(img, now); err != nil {
			slog.Warn("viewer: snapshot failed", "seq", img.Seq, "error", err)
		}
	}
}

// Current returns the displayed image, or nil while waiting for a source.
func (r *renderer) Current() *frame.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *renderer) Stats() renderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := renderStats{
		Presented: r.presented,
		Buffered:  r.delay.len(),
		Waiting:   r.waiting,
		Stalled:   r.stalled,
	}
	if r.current != nil {
		s.Resolution = resolution(r.current)
		s.LastSeq = r.current.Seq
	}
	return s
}

func resolution(img *frame.Image) string {
	if img == nil {
		return ""
	}
	return fmtResolution(img.Width, img.Height)
}

// delayQueue is a FIFO that releases a frame only once more than depth
// frames are queued, so the display trails the source by depth frames.
type delayQueue struct {
	frames []*frame.Image
	n      int
}

func newDelayQueue(depth int) *delayQueue {
	return &delayQueue{n: depth}
}

func (q *delayQueue) push(img *frame.Image) {
	q.frames = append(q.frames, img)
}

func (q *delayQueue) pop() (*frame.Image, bool) {
	if len(q.frames) <= q.n {
		return nil, false
	}
	img := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return img, true
}

func (q *delayQueue) len() int {
	if q == nil {
		return 0
	}
	return len(q.frames)
}

func (q *delayQueue) depth() int {
	if q == nil {
		return 0
	}
	return q.n
}
