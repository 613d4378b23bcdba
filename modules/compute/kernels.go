package compute

// grayscaleRows applies KernelGrayscale to rows [y0, y1).
func grayscaleRows(in, out PixelBuffer, width, y0, y1 int) {
	for i := y0 * width; i < y1*width; i++ {
		p := in[i]
		r := p & 0xFF
		g := (p >> 8) & 0xFF
		b := (p >> 16) & 0xFF
		l := (LumaR*r + LumaG*g + LumaB*b) >> 8
		out[i] = l | l<<8 | l<<16 | 0xFF<<24
	}
}

// blurRows applies KernelGaussianBlur5x5 to rows [y0, y1). Reads clamp to
// the image edge; each channel is accumulated separately and divided by 256
// with truncation.
func blurRows(in, out PixelBuffer, width, height, y0, y1 int) {
	for y := y0; y < y1; y++ {
		for x := 0; x < width; x++ {
			var sr, sg, sb, sa uint32
			for ky := 0; ky < 5; ky++ {
				row := clamp(y+ky-BlurRadius, height) * width
				for kx := 0; kx < 5; kx++ {
					p := in[row+clamp(x+kx-BlurRadius, width)]
					w := BlurWeights[ky][kx]
					sr += w * (p & 0xFF)
					sg += w * ((p >> 8) & 0xFF)
					sb += w * ((p >> 16) & 0xFF)
					sa += w * (p >> 24)
				}
			}
			out[y*width+x] = sr>>8 | (sg>>8)<<8 | (sb>>8)<<16 | (sa>>8)<<24
		}
	}
}

// copyRows implements KernelNone.
func copyRows(in, out PixelBuffer, width, y0, y1 int) {
	copy(out[y0*width:y1*width], in[y0*width:y1*width])
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// runRows dispatches one band of rows for kernel k.
func runRows(k Kernel, in, out PixelBuffer, width, height, y0, y1 int) {
	switch k {
	case KernelGrayscale:
		grayscaleRows(in, out, width, y0, y1)
	case KernelGaussianBlur5x5:
		blurRows(in, out, width, height, y0, y1)
	default:
		copyRows(in, out, width, y0, y1)
	}
}
