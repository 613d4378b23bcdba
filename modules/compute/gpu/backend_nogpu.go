//go:build nogpu

package gpu

import (
	"context"

	"github.com/e7canasta/orion-viewer/modules/compute"
)

// Config tunes the GPU backend.
type Config struct {
	CPU      compute.CPUConfig
	Disabled bool
}

// Backend is the CPU-only stand-in used when built with the nogpu tag.
type Backend struct {
	fallback *compute.CPU
}

var _ compute.Backend = (*Backend)(nil)

// New returns a backend that always runs on the CPU.
func New(cfg Config) *Backend {
	return &Backend{fallback: compute.NewCPU(cfg.CPU)}
}

func (b *Backend) Name() string    { return "cpu" }
func (b *Backend) Ready() bool     { return false }
func (b *Backend) Adapter() string { return "" }
func (b *Backend) Close() error    { return nil }

func (b *Backend) Dispatch(ctx context.Context, k compute.Kernel, in, out compute.PixelBuffer, width, height uint32) error {
	return b.fallback.Dispatch(ctx, k, in, out, width, height)
}
