// Package frame defines the raw frame produced by a network source, the
// canonical RGBA image handed to the renderer, and the validation and
// conversion steps between the two.
//
// Flow:
//
//	source.Receiver.Poll() → *RawFrame → Validate() → Convert() → *Image
//
// Only 32-bit packed RGBA and RGBX frames with tight line strides are
// accepted. Everything else is rejected with a typed reason so the capture
// loop can count it and move on.
package frame

import (
	"image"
	"time"
)

// PixelFormat identifies the memory layout of a raw frame as reported by the source.
type PixelFormat int

const (
	// FormatUnknown is any layout the source could not name.
	FormatUnknown PixelFormat = iota
	// FormatRGBA is 8-bit R,G,B,A per texel with meaningful alpha.
	FormatRGBA
	// FormatRGBX is 8-bit R,G,B plus one padding byte whose value is undefined.
	FormatRGBX
	// FormatBGRA is 8-bit B,G,R,A per texel.
	FormatBGRA
	// FormatBGRX is 8-bit B,G,R plus one padding byte.
	FormatBGRX
	// FormatUYVY is packed 4:2:2 YUV.
	FormatUYVY
	// FormatNV12 is planar 4:2:0 YUV with interleaved chroma.
	FormatNV12
	// FormatI420 is fully planar 4:2:0 YUV.
	FormatI420
)

// String returns the GStreamer-style name of the format.
func (p PixelFormat) String() string {
	switch p {
	case FormatRGBA:
		return "RGBA"
	case FormatRGBX:
		return "RGBx"
	case FormatBGRA:
		return "BGRA"
	case FormatBGRX:
		return "BGRx"
	case FormatUYVY:
		return "UYVY"
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	default:
		return "unknown"
	}
}

// ParsePixelFormat maps a GStreamer caps format string to a PixelFormat.
// Unrecognized names map to FormatUnknown.
func ParsePixelFormat(name string) PixelFormat {
	switch name {
	case "RGBA":
		return FormatRGBA
	case "RGBx", "RGBX":
		return FormatRGBX
	case "BGRA":
		return FormatBGRA
	case "BGRx", "BGRX":
		return FormatBGRX
	case "UYVY":
		return FormatUYVY
	case "NV12":
		return FormatNV12
	case "I420":
		return FormatI420
	default:
		return FormatUnknown
	}
}

// RawFrame is one uncompressed video frame as delivered by a source.
//
// The capture loop owns a RawFrame only until it has been validated; after
// that it is either promoted to an Image or discarded.
type RawFrame struct {
	// Format is the pixel layout reported by the source
	Format PixelFormat
	// Width in pixels
	Width uint32
	// Height in pixels
	Height uint32
	// LineStrideBytes is the distance between row starts. Zero when the
	// source reported DataSizeBytes instead.
	LineStrideBytes uint32
	// DataSizeBytes is set by sources that describe the buffer by total size
	// rather than by line stride (compressed or planar payloads).
	DataSizeBytes uint32
	// Data holds the pixel bytes
	Data []byte

	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was received
	Timestamp time.Time
	// Timecode is the source timecode in 100ns units (0 if unknown)
	Timecode int64
	// SourceName identifies the source the frame came from
	SourceName string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Image is the canonical renderable frame: Width*Height RGBA texels, row-major,
// no padding. len(Pix) == Width*Height*4 always holds.
//
// An Image is owned by exactly one side at a time. After it has been
// published to an exchange the producer must not touch it again.
type Image struct {
	Width  uint32
	Height uint32
	Pix    []byte

	Seq        uint64
	Timestamp  time.Time
	Timecode   int64
	SourceName string
	TraceID    string
}

// NewImage allocates a zeroed Image of the given size.
func NewImage(width, height uint32) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, int(width)*int(height)*4),
	}
}

// Texels returns the number of texels in the image.
func (img *Image) Texels() int {
	return int(img.Width) * int(img.Height)
}

// RGBA wraps the pixel buffer as an *image.RGBA without copying, for use
// with image encoders. The returned image aliases img.Pix.
func (img *Image) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    img.Pix,
		Stride: int(img.Width) * 4,
		Rect:   image.Rect(0, 0, int(img.Width), int(img.Height)),
	}
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	out := *img
	out.Pix = make([]byte, len(img.Pix))
	copy(out.Pix, img.Pix)
	return &out
}
