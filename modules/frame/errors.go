package frame

import (
	"errors"
	"fmt"
)

// Rejection reasons. A *RejectError always unwraps to exactly one of these.
var (
	ErrUnsupportedFormat = errors.New("frame: unsupported pixel format")
	ErrStrideMismatch    = errors.New("frame: line stride mismatch")
	ErrBufferTooSmall    = errors.New("frame: buffer too small")
)

// RejectError describes why a raw frame was not accepted.
type RejectError struct {
	// Reason is one of ErrUnsupportedFormat, ErrStrideMismatch, ErrBufferTooSmall
	Reason error

	Format   PixelFormat
	Width    uint32
	Height   uint32
	Stride   uint32
	DataLen  int
	Expected uint64 // expected stride or minimum buffer length, depending on Reason
}

func (e *RejectError) Error() string {
	switch e.Reason {
	case ErrUnsupportedFormat:
		return fmt.Sprintf("%v: %s", e.Reason, e.Format)
	case ErrStrideMismatch:
		if e.Stride == 0 {
			return fmt.Sprintf("%v: source reported data size instead of stride", e.Reason)
		}
		return fmt.Sprintf("%v: got %d, want %d", e.Reason, e.Stride, e.Expected)
	case ErrBufferTooSmall:
		return fmt.Sprintf("%v: got %d bytes, need %d", e.Reason, e.DataLen, e.Expected)
	default:
		return fmt.Sprintf("frame: rejected: %v", e.Reason)
	}
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}

// ReasonName returns a short stable label for a rejection error, suitable as
// a counter key. It returns "unknown" for errors that are not rejections.
func ReasonName(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrStrideMismatch):
		return "stride_mismatch"
	case errors.Is(err, ErrBufferTooSmall):
		return "buffer_too_small"
	default:
		return "unknown"
	}
}
