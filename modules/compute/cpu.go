package compute

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minParallelTexels is the default size below which a dispatch runs on the
// calling goroutine. Spawning workers for a thumbnail costs more than it saves.
const minParallelTexels = 64 * 64

// CPUConfig tunes the CPU backend. Zero values select defaults.
type CPUConfig struct {
	// Workers is the maximum number of concurrent row bands (default: GOMAXPROCS)
	Workers int
	// MinParallelTexels is the texel count below which work is not split
	// (default: 4096). Set to 1 to always split.
	MinParallelTexels int
}

// CPU runs kernels on goroutines. It is stateless across dispatches and safe
// for concurrent use.
type CPU struct {
	workers  int
	minTexel int
}

// NewCPU creates a CPU backend.
func NewCPU(cfg CPUConfig) *CPU {
	c := &CPU{workers: cfg.Workers, minTexel: cfg.MinParallelTexels}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	if c.minTexel <= 0 {
		c.minTexel = minParallelTexels
	}
	return c
}

// Name implements Backend.
func (c *CPU) Name() string { return "cpu" }

// Close implements Backend. The CPU backend holds no resources.
func (c *CPU) Close() error { return nil }

// Dispatch runs kernel k over in, writing out. Both buffers must hold
// exactly width*height texels and must not overlap.
//
// Rows are split into at most Workers contiguous bands of at least one row.
// Every output texel is written by exactly one band, and reads only touch
// in, so the result is identical for any split.
func (c *CPU) Dispatch(ctx context.Context, k Kernel, in, out PixelBuffer, width, height uint32) error {
	if k < KernelNone || k > KernelGaussianBlur5x5 {
		return ErrUnknownKernel
	}
	if err := CheckDispatch(in, out, width, height); err != nil {
		return err
	}
	if len(in) == 0 {
		return nil
	}

	w, h := int(width), int(height)
	bands := c.workers
	if len(in) < c.minTexel || bands < 2 {
		bands = 1
	}
	return DispatchBands(ctx, k, in, out, w, h, bands)
}

// DispatchBands runs kernel k split into the given number of row bands.
// Exported so tests and benchmarks can compare partitionings directly.
func DispatchBands(ctx context.Context, k Kernel, in, out PixelBuffer, width, height, bands int) error {
	if bands > height {
		bands = height
	}
	if bands <= 1 {
		runRows(k, in, out, width, height, 0, height)
		return nil
	}

	rowsPerBand := (height + bands - 1) / bands

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bands)
	for y0 := 0; y0 < height; y0 += rowsPerBand {
		y1 := min(y0+rowsPerBand, height)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runRows(k, in, out, width, height, y0, y1)
			return nil
		})
	}
	return g.Wait()
}
