// Package compute runs per-pixel postprocessing kernels over packed RGBA
// pixel buffers.
//
// Two kernels are provided, Grayscale and a 5x5 Gaussian blur. Both read an
// input buffer and write a disjoint output buffer of the same size. Work is
// split into row bands and run in parallel; the split never changes the
// result.
//
// Backends:
//   - CPU: goroutine parallel-for over row bands (always available)
//   - gpu.Backend: wgpu compute shaders, falls back to CPU without an adapter
package compute

import (
	"errors"
	"fmt"
	"strings"
)

// Dispatch errors. These never leave the calling goroutine.
var (
	ErrDimensionMismatch = errors.New("compute: buffer length does not match width*height")
	ErrAliasedBuffers    = errors.New("compute: input and output buffers overlap")
	ErrUnknownKernel     = errors.New("compute: unknown kernel")
)

// Kernel selects the operation a dispatch performs.
type Kernel int

const (
	// KernelNone leaves frames untouched. Dispatching it copies in to out.
	KernelNone Kernel = iota
	// KernelGrayscale replaces RGB with integer luma and sets alpha to 255.
	KernelGrayscale
	// KernelGaussianBlur5x5 applies a clamp-to-edge 5x5 binomial blur to all four channels.
	KernelGaussianBlur5x5
)

// String returns the configuration name of the kernel.
func (k Kernel) String() string {
	switch k {
	case KernelNone:
		return "none"
	case KernelGrayscale:
		return "grayscale"
	case KernelGaussianBlur5x5:
		return "gaussian_blur_5x5"
	default:
		return fmt.Sprintf("kernel(%d)", int(k))
	}
}

// ParseKernel maps a configuration name to a Kernel. Matching is
// case-insensitive and accepts a few short aliases.
func ParseKernel(name string) (Kernel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return KernelNone, nil
	case "grayscale", "greyscale", "gray", "grey":
		return KernelGrayscale, nil
	case "gaussian_blur_5x5", "gaussian", "blur", "blur5x5":
		return KernelGaussianBlur5x5, nil
	default:
		return KernelNone, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
}

// Luma weights, fixed-point with an 8-bit fraction. They sum to 256 so white
// stays white.
const (
	LumaR = 77
	LumaG = 150
	LumaB = 29
)

// BlurWeights is the outer product of [1 4 6 4 1] with itself. The entries
// sum to 256, so dividing by 256 preserves flat regions exactly.
var BlurWeights = [5][5]uint32{
	{1, 4, 6, 4, 1},
	{4, 16, 24, 16, 4},
	{6, 24, 36, 24, 6},
	{4, 16, 24, 16, 4},
	{1, 4, 6, 4, 1},
}

// BlurRadius is the stencil half-width of KernelGaussianBlur5x5.
const BlurRadius = 2
