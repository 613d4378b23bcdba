package compute_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/frame"
)

func randomBuffer(seed int64, n int) compute.PixelBuffer {
	rng := rand.New(rand.NewSource(seed))
	buf := make(compute.PixelBuffer, n)
	for i := range buf {
		buf[i] = rng.Uint32()
	}
	return buf
}

func TestPackUnpack(t *testing.T) {
	p := compute.Pack(1, 2, 3, 4)
	assert.Equal(t, uint32(0x04030201), p)

	r, g, b, a := compute.Unpack(p)
	assert.Equal(t, []uint8{1, 2, 3, 4}, []uint8{r, g, b, a})

	pix := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	buf := compute.PackRGBA(nil, pix)
	require.Len(t, buf, 2)
	assert.Equal(t, compute.Pack(50, 60, 70, 80), buf[1])

	out := make([]byte, len(pix))
	compute.UnpackRGBA(out, buf)
	assert.Equal(t, pix, out)
}

// TestGrayscale_KnownValues checks the fixed-point luma formula.
func TestGrayscale_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want uint32
	}{
		{"reference color", compute.Pack(200, 100, 50, 255), compute.Pack(124, 124, 124, 255)},
		{"white", compute.Pack(255, 255, 255, 255), compute.Pack(255, 255, 255, 255)},
		{"black transparent", compute.Pack(0, 0, 0, 0), compute.Pack(0, 0, 0, 255)},
		{"pure red", compute.Pack(255, 0, 0, 10), compute.Pack(76, 76, 76, 255)},
		{"pure green", compute.Pack(0, 255, 0, 10), compute.Pack(149, 149, 149, 255)},
		{"pure blue", compute.Pack(0, 0, 255, 10), compute.Pack(28, 28, 28, 255)},
	}

	cpu := compute.NewCPU(compute.CPUConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := compute.PixelBuffer{tt.in}
			out := make(compute.PixelBuffer, 1)
			require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGrayscale, in, out, 1, 1))
			assert.Equal(t, tt.want, out[0], "got %08x want %08x", out[0], tt.want)
		})
	}
}

// TestGrayscale_OutputIsGrayAndOpaque checks every output texel over random
// input has R == G == B and A == 255.
func TestGrayscale_OutputIsGrayAndOpaque(t *testing.T) {
	const w, h = 37, 23
	in := randomBuffer(1, w*h)
	out := make(compute.PixelBuffer, w*h)

	cpu := compute.NewCPU(compute.CPUConfig{MinParallelTexels: 1})
	require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGrayscale, in, out, w, h))

	for i, p := range out {
		r, g, b, a := compute.Unpack(p)
		if r != g || g != b || a != 255 {
			t.Fatalf("texel %d not gray/opaque: %08x", i, p)
		}
	}
}

func TestBlurWeights(t *testing.T) {
	var sum uint32
	row := [5]uint32{1, 4, 6, 4, 1}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			assert.Equal(t, row[y]*row[x], compute.BlurWeights[y][x])
			sum += compute.BlurWeights[y][x]
		}
	}
	assert.Equal(t, uint32(256), sum)
}

// TestBlur_UniformImageUnchanged: a flat image is a fixed point of the blur,
// edges included.
func TestBlur_UniformImageUnchanged(t *testing.T) {
	for _, size := range [][2]uint32{{1, 1}, {2, 3}, {5, 5}, {16, 9}} {
		w, h := size[0], size[1]
		c := compute.Pack(13, 200, 77, 128)
		in := make(compute.PixelBuffer, w*h)
		for i := range in {
			in[i] = c
		}
		out := make(compute.PixelBuffer, w*h)

		cpu := compute.NewCPU(compute.CPUConfig{})
		require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGaussianBlur5x5, in, out, w, h))
		for i, p := range out {
			require.Equal(t, c, p, "%dx%d texel %d", w, h, i)
		}
	}
}

// TestBlur_SingleTexelFootprint: one bright texel away from the edges spreads
// into exactly the 5x5 weight pattern, scaled by 1/256 and truncated.
func TestBlur_SingleTexelFootprint(t *testing.T) {
	const w, h = 9, 9
	const cx, cy = 4, 4
	in := make(compute.PixelBuffer, w*h)
	in[cy*w+cx] = compute.Pack(255, 128, 0, 0)
	out := make(compute.PixelBuffer, w*h)

	cpu := compute.NewCPU(compute.CPUConfig{})
	require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGaussianBlur5x5, in, out, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			var want uint32
			if dx >= -2 && dx <= 2 && dy >= -2 && dy <= 2 {
				wt := compute.BlurWeights[dy+2][dx+2]
				want = compute.Pack(uint8(255*wt>>8), uint8(128*wt>>8), 0, 0)
			}
			assert.Equal(t, want, out[y*w+x], "texel (%d,%d)", x, y)
		}
	}
}

// TestBlur_EdgeClamp: at a corner, out-of-range taps read the corner texel.
func TestBlur_EdgeClamp(t *testing.T) {
	const w, h = 3, 1
	in := compute.PixelBuffer{compute.Pack(255, 0, 0, 255), 0, 0}
	out := make(compute.PixelBuffer, w*h)

	cpu := compute.NewCPU(compute.CPUConfig{})
	require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGaussianBlur5x5, in, out, w, h))

	// Every row tap clamps to row 0, so the vertical weights sum to 16.
	// Horizontal taps for x=0 are columns {0,0,0,1,2}: weight on column 0 is 1+4+6.
	want0 := uint32(255 * 16 * 11 >> 8)
	r, _, _, a := compute.Unpack(out[0])
	assert.Equal(t, uint8(want0), r)
	assert.Equal(t, uint8(want0), a)

	// x=2 reads columns {0,1,2,2,2}: weight on column 0 is 1.
	want2 := uint32(255 * 16 * 1 >> 8)
	r, _, _, _ = compute.Unpack(out[2])
	assert.Equal(t, uint8(want2), r)
}

// TestPartitionIndependence runs both kernels over the same input with many
// band counts and requires identical output.
func TestPartitionIndependence(t *testing.T) {
	const w, h = 31, 29
	in := randomBuffer(42, w*h)
	ctx := context.Background()

	for _, k := range []compute.Kernel{compute.KernelGrayscale, compute.KernelGaussianBlur5x5, compute.KernelNone} {
		t.Run(k.String(), func(t *testing.T) {
			ref := make(compute.PixelBuffer, w*h)
			require.NoError(t, compute.DispatchBands(ctx, k, in, ref, w, h, 1))

			for _, bands := range []int{2, 3, 4, 7, 16, h, h + 5} {
				out := make(compute.PixelBuffer, w*h)
				require.NoError(t, compute.DispatchBands(ctx, k, in, out, w, h, bands))
				require.Equal(t, ref, out, "bands=%d", bands)
			}

			for _, workers := range []int{1, 2, 8} {
				out := make(compute.PixelBuffer, w*h)
				cpu := compute.NewCPU(compute.CPUConfig{Workers: workers, MinParallelTexels: 1})
				require.NoError(t, cpu.Dispatch(ctx, k, in, out, w, h))
				require.Equal(t, ref, out, "workers=%d", workers)
			}
		})
	}
}

func TestDispatch_InputUntouched(t *testing.T) {
	const w, h = 8, 8
	in := randomBuffer(7, w*h)
	orig := append(compute.PixelBuffer(nil), in...)
	out := make(compute.PixelBuffer, w*h)

	cpu := compute.NewCPU(compute.CPUConfig{MinParallelTexels: 1})
	require.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGaussianBlur5x5, in, out, w, h))
	assert.Equal(t, orig, in)
}

func TestDispatch_Rejections(t *testing.T) {
	cpu := compute.NewCPU(compute.CPUConfig{})
	ctx := context.Background()
	backing := make(compute.PixelBuffer, 17)

	tests := []struct {
		name    string
		kernel  compute.Kernel
		in, out compute.PixelBuffer
		w, h    uint32
		wantErr error
	}{
		{"short input", compute.KernelGrayscale, make(compute.PixelBuffer, 15), make(compute.PixelBuffer, 16), 4, 4, compute.ErrDimensionMismatch},
		{"short output", compute.KernelGaussianBlur5x5, make(compute.PixelBuffer, 16), make(compute.PixelBuffer, 15), 4, 4, compute.ErrDimensionMismatch},
		{"wrong dims", compute.KernelGrayscale, make(compute.PixelBuffer, 16), make(compute.PixelBuffer, 16), 5, 3, compute.ErrDimensionMismatch},
		{"same buffer", compute.KernelGrayscale, backing[:16], backing[:16], 4, 4, compute.ErrAliasedBuffers},
		{"overlapping", compute.KernelGaussianBlur5x5, backing[:16], backing[1:17], 4, 4, compute.ErrAliasedBuffers},
		{"unknown kernel", compute.Kernel(99), make(compute.PixelBuffer, 1), make(compute.PixelBuffer, 1), 1, 1, compute.ErrUnknownKernel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cpu.Dispatch(ctx, tt.kernel, tt.in, tt.out, tt.w, tt.h)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDispatch_EmptyImage(t *testing.T) {
	cpu := compute.NewCPU(compute.CPUConfig{})
	assert.NoError(t, cpu.Dispatch(context.Background(), compute.KernelGaussianBlur5x5, nil, nil, 0, 10))
}

func TestDispatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	const w, h = 64, 64
	in := randomBuffer(3, w*h)
	out := make(compute.PixelBuffer, w*h)
	err := compute.DispatchBands(ctx, compute.KernelGrayscale, in, out, w, h, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseKernel(t *testing.T) {
	tests := []struct {
		in   string
		want compute.Kernel
	}{
		{"", compute.KernelNone},
		{"none", compute.KernelNone},
		{"Grayscale", compute.KernelGrayscale},
		{"grey", compute.KernelGrayscale},
		{"gaussian_blur_5x5", compute.KernelGaussianBlur5x5},
		{" blur ", compute.KernelGaussianBlur5x5},
	}
	for _, tt := range tests {
		k, err := compute.ParseKernel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, k, tt.in)
		if tt.in != "" && tt.in == tt.want.String() {
			assert.Equal(t, tt.in, k.String())
		}
	}

	_, err := compute.ParseKernel("sharpen")
	assert.ErrorIs(t, err, compute.ErrUnknownKernel)
}

func TestPipeline_ApplyImage(t *testing.T) {
	p := compute.NewPipeline(nil)
	defer p.Close()

	img := frame.NewImage(2, 1)
	copy(img.Pix, []byte{200, 100, 50, 255, 255, 255, 255, 0})
	img.Seq = 9

	out, err := p.ApplyImage(context.Background(), compute.KernelGrayscale, img)
	require.NoError(t, err)
	assert.NotSame(t, img, out)
	assert.Equal(t, uint64(9), out.Seq)
	assert.Equal(t, []byte{124, 124, 124, 255, 255, 255, 255, 255}, out.Pix)
	assert.Equal(t, []byte{200, 100, 50, 255, 255, 255, 255, 0}, img.Pix, "input not modified")

	same, err := p.ApplyImage(context.Background(), compute.KernelNone, img)
	require.NoError(t, err)
	assert.Same(t, img, same)

	bad := &frame.Image{Width: 3, Height: 3, Pix: make([]byte, 8)}
	_, err = p.ApplyImage(context.Background(), compute.KernelGaussianBlur5x5, bad)
	assert.ErrorIs(t, err, compute.ErrDimensionMismatch)

	stats := p.Stats()
	assert.Equal(t, "cpu", stats.Backend)
	assert.Equal(t, uint64(1), stats.Dispatches)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func BenchmarkBlur720p(b *testing.B) {
	const w, h = 1280, 720
	in := randomBuffer(1, w*h)
	out := make(compute.PixelBuffer, w*h)
	cpu := compute.NewCPU(compute.CPUConfig{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cpu.Dispatch(ctx, compute.KernelGaussianBlur5x5, in, out, w, h)
	}
}
