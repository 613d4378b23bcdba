package compute

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-viewer/modules/frame"
)

// Backend executes kernels. Implementations must be safe for concurrent
// Dispatch calls and must produce bit-identical results to the CPU backend.
type Backend interface {
	Name() string
	Dispatch(ctx context.Context, k Kernel, in, out PixelBuffer, width, height uint32) error
	Close() error
}

// Stats counts dispatches through a Pipeline.
type Stats struct {
	Backend    string
	Dispatches uint64
	Rejected   uint64
}

// Pipeline adapts a Backend to canonical images. It keeps packed scratch
// buffers between calls so steady-state frame processing does not allocate
// beyond the output image.
type Pipeline struct {
	backend Backend

	mu      sync.Mutex // guards scratch buffers
	scratch PixelBuffer
	result  PixelBuffer

	dispatches atomic.Uint64
	rejected   atomic.Uint64
}

// NewPipeline wraps backend. A nil backend selects the default CPU backend.
func NewPipeline(backend Backend) *Pipeline {
	if backend == nil {
		backend = NewCPU(CPUConfig{})
	}
	return &Pipeline{backend: backend}
}

// Backend returns the name of the backend in use.
func (p *Pipeline) Backend() string {
	return p.backend.Name()
}

// Dispatch forwards to the backend and counts the outcome.
func (p *Pipeline) Dispatch(ctx context.Context, k Kernel, in, out PixelBuffer, width, height uint32) error {
	if err := p.backend.Dispatch(ctx, k, in, out, width, height); err != nil {
		p.rejected.Add(1)
		return err
	}
	p.dispatches.Add(1)
	return nil
}

// ApplyImage runs kernel k over img and returns a new image carrying the
// same metadata. img is not modified. KernelNone returns img unchanged.
func (p *Pipeline) ApplyImage(ctx context.Context, k Kernel, img *frame.Image) (*frame.Image, error) {
	if k == KernelNone {
		return img, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.scratch = PackRGBA(p.scratch, img.Pix)
	if cap(p.result) < len(p.scratch) {
		p.result = make(PixelBuffer, len(p.scratch))
	}
	p.result = p.result[:len(p.scratch)]

	if err := p.Dispatch(ctx, k, p.scratch, p.result, img.Width, img.Height); err != nil {
		slog.Debug("compute: dispatch rejected",
			"kernel", k.String(),
			"backend", p.backend.Name(),
			"width", img.Width,
			"height", img.Height,
			"error", err,
		)
		return nil, err
	}

	out := *img
	out.Pix = make([]byte, len(img.Pix))
	UnpackRGBA(out.Pix, p.result)
	return &out, nil
}

// Stats returns dispatch counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Backend:    p.backend.Name(),
		Dispatches: p.dispatches.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// Close releases the backend.
func (p *Pipeline) Close() error {
	return p.backend.Close()
}
