// Package synthetic implements source.Provider with generated test patterns.
//
// It needs no network or GStreamer install, which makes it the provider for
// demos and for exercising the capture loop. Faults (failed discovery,
// refused connections, dropped streams, malformed frames) can be injected to
// drive every capture state transition deterministically.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/source"
)

// ErrInjected marks failures produced by fault injection.
var ErrInjected = errors.New("synthetic: injected fault")

// Config configures the generated sources and their faults.
type Config struct {
	// Sources are the names offered by discovery (default: "synthetic")
	Sources []string
	Width   uint32
	Height  uint32
	// Format is the pixel layout emitted (RGBA or RGBX for valid frames)
	Format frame.PixelFormat
	// FPS paces Poll; 0 emits a frame on every call
	FPS float64

	// FailOpen makes every Open call fail with this error
	FailOpen error
	// HiddenRounds is how many Sources calls report nothing
	HiddenRounds int
	// FailConnects is how many Connect calls fail before one succeeds
	FailConnects int
	// DropAfter ends each connection after this many frames (0 = never)
	DropAfter int
	// BadFrameEvery emits a padded-stride frame every N frames (0 = never)
	BadFrameEvery int
}

// DefaultConfig returns a single 640x360 RGBA source at 30 fps.
func DefaultConfig() Config {
	return Config{
		Sources: []string{"synthetic"},
		Width:   640,
		Height:  360,
		Format:  frame.FormatRGBA,
		FPS:     30,
	}
}

// Provider generates test-pattern sources.
type Provider struct {
	cfg Config

	opens     atomic.Int64
	connects  atomic.Int64
	failed    atomic.Int64
	discovers atomic.Int64
}

// NewProvider validates cfg and returns a provider.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.Sources) == 0 {
		cfg.Sources = []string{"synthetic"}
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("synthetic: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Format == frame.FormatUnknown {
		cfg.Format = frame.FormatRGBA
	}
	if cfg.FPS < 0 {
		return nil, fmt.Errorf("synthetic: invalid fps %.2f", cfg.FPS)
	}

	slog.Info("synthetic: provider created",
		"sources", cfg.Sources,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"format", cfg.Format.String(),
		"fps", cfg.FPS,
	)

	return &Provider{cfg: cfg}, nil
}

// Opens reports how many discovery sessions were opened.
func (p *Provider) Opens() int64 { return p.opens.Load() }

// Connects reports how many Connect calls were made, failed ones included.
func (p *Provider) Connects() int64 { return p.connects.Load() }

// Open starts a discovery session. Extra targets are accepted and ignored.
func (p *Provider) Open(ctx context.Context, extra []source.Target) (source.Finder, error) {
	p.opens.Add(1)
	if p.cfg.FailOpen != nil {
		return nil, fmt.Errorf("synthetic: open: %w", p.cfg.FailOpen)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		slog.Debug("synthetic: ignoring extra targets", "count", len(extra))
	}
	return &finder{p: p}, nil
}

// Connect returns a receiver for d, unless a connect fault is pending.
func (p *Provider) Connect(ctx context.Context, d source.Descriptor) (source.Receiver, error) {
	p.connects.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.failed.Load() < int64(p.cfg.FailConnects) {
		p.failed.Add(1)
		return nil, fmt.Errorf("synthetic: connect %q: %w: %w", d.Name, ErrInjected, source.ErrSourceUnavailable)
	}

	var interval time.Duration
	if p.cfg.FPS > 0 {
		interval = time.Duration(float64(time.Second) / p.cfg.FPS)
	}

	return &receiver{
		cfg:      p.cfg,
		name:     d.Name,
		interval: interval,
		nextAt:   time.Now(),
	}, nil
}

type finder struct {
	p      *Provider
	closed atomic.Bool
}

func (f *finder) Sources(ctx context.Context, wait time.Duration) ([]source.Descriptor, error) {
	if f.closed.Load() {
		return nil, errors.New("synthetic: finder closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.p.discovers.Add(1) <= int64(f.p.cfg.HiddenRounds) {
		// Nothing yet; behave like a real window that expired.
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		return nil, nil
	}

	out := make([]source.Descriptor, 0, len(f.p.cfg.Sources))
	for _, name := range f.p.cfg.Sources {
		out = append(out, source.Descriptor{
			Name:  name,
			URL:   "synthetic://" + name,
			Local: true,
		})
	}
	return out, nil
}

func (f *finder) Close() error {
	f.closed.Store(true)
	return nil
}

type receiver struct {
	cfg      Config
	name     string
	interval time.Duration

	mu     sync.Mutex
	seq    uint64
	nextAt time.Time
	closed bool
}

// Poll returns the next pattern frame once it is due, or (nil, nil) if it
// is not due within timeout.
func (r *receiver) Poll(ctx context.Context, timeout time.Duration) (*frame.RawFrame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("synthetic: %s: receiver closed: %w", r.name, source.ErrConnectionLost)
	}
	if r.cfg.DropAfter > 0 && r.seq >= uint64(r.cfg.DropAfter) {
		return nil, fmt.Errorf("synthetic: %s: dropped after %d frames: %w: %w",
			r.name, r.seq, ErrInjected, source.ErrConnectionLost)
	}

	if wait := time.Until(r.nextAt); wait > 0 {
		if wait > timeout {
			if err := sleep(ctx, timeout); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	r.nextAt = time.Now().Add(r.interval)

	r.seq++
	return r.render(r.seq), nil
}

func (r *receiver) render(seq uint64) *frame.RawFrame {
	w, h := r.cfg.Width, r.cfg.Height
	stride := w * 4
	bad := r.cfg.BadFrameEvery > 0 && seq%uint64(r.cfg.BadFrameEvery) == 0
	if bad {
		stride += 16
	}

	data := make([]byte, int(stride)*int(h))
	fill(data, w, h, stride, seq, r.cfg.Format)

	return &frame.RawFrame{
		Format:          r.cfg.Format,
		Width:           w,
		Height:          h,
		LineStrideBytes: stride,
		Data:            data,
		Seq:             seq,
		Timestamp:       time.Now(),
		Timecode:        int64(seq) * int64(r.interval/100),
		SourceName:      r.name,
		TraceID:         uuid.New().String(),
	}
}

// fill draws a gradient that scrolls one texel per frame. RGBX frames leave
// the padding byte at zero.
func fill(data []byte, w, h, stride uint32, seq uint64, format frame.PixelFormat) {
	var alpha byte = 0xFF
	if format == frame.FormatRGBX {
		alpha = 0
	}
	shift := uint32(seq)
	for y := uint32(0); y < h; y++ {
		row := data[y*stride:]
		for x := uint32(0); x < w; x++ {
			o := x * 4
			row[o] = byte((x + shift) % w * 255 / w)
			row[o+1] = byte(y * 255 / h)
			row[o+2] = byte(shift)
			row[o+3] = alpha
		}
	}
}

func (r *receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
