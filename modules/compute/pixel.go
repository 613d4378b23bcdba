package compute

import (
	"fmt"
	"unsafe"
)

// PixelBuffer holds one texel per element: byte 0 = R, 1 = G, 2 = B, 3 = A,
// i.e. R | G<<8 | B<<16 | A<<24. Row-major, no padding.
type PixelBuffer []uint32

// Pack builds a texel from its four channels.
func Pack(r, g, b, a uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
}

// Unpack splits a texel into its four channels.
func Unpack(p uint32) (r, g, b, a uint8) {
	return uint8(p), uint8(p >> 8), uint8(p >> 16), uint8(p >> 24)
}

// PackRGBA converts RGBA bytes into dst, growing it if needed, and returns
// the resized buffer.
func PackRGBA(dst PixelBuffer, pix []byte) PixelBuffer {
	n := len(pix) / 4
	if cap(dst) < n {
		dst = make(PixelBuffer, n)
	}
	dst = dst[:n]
	for i := range dst {
		j := i * 4
		dst[i] = uint32(pix[j]) | uint32(pix[j+1])<<8 | uint32(pix[j+2])<<16 | uint32(pix[j+3])<<24
	}
	return dst
}

// UnpackRGBA writes buf back into RGBA bytes. pix must hold len(buf)*4 bytes.
func UnpackRGBA(pix []byte, buf PixelBuffer) {
	for i, p := range buf {
		j := i * 4
		pix[j] = uint8(p)
		pix[j+1] = uint8(p >> 8)
		pix[j+2] = uint8(p >> 16)
		pix[j+3] = uint8(p >> 24)
	}
}

// CheckDispatch validates buffer sizes and disjointness for a dispatch.
// Backends call it before doing any work.
func CheckDispatch(in, out PixelBuffer, width, height uint32) error {
	n := uint64(width) * uint64(height)
	if uint64(len(in)) != n || uint64(len(out)) != n {
		return fmt.Errorf("%w: %dx%d needs %d texels, got in=%d out=%d",
			ErrDimensionMismatch, width, height, n, len(in), len(out))
	}
	if overlaps(in, out) {
		return ErrAliasedBuffers
	}
	return nil
}

func overlaps(a, b PixelBuffer) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	const sz = unsafe.Sizeof(uint32(0))
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	aEnd := aStart + uintptr(len(a))*sz
	bEnd := bStart + uintptr(len(b))*sz
	return aStart < bEnd && bStart < aEnd
}
