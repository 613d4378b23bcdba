package frame

// bytesPerTexel is fixed: only 32-bit packed formats are accepted.
const bytesPerTexel = 4

// Accepted is the proof that a RawFrame passed validation. Convert only
// takes frames that come with one.
type Accepted struct {
	Width  uint32
	Height uint32
	Stride uint32
}

// Validate checks that a raw frame can be converted without guessing.
//
// Rules, evaluated in order:
//  1. Format is RGBA or RGBX, else ErrUnsupportedFormat
//  2. LineStrideBytes == Width*4, else ErrStrideMismatch
//  3. len(Data) >= LineStrideBytes*Height, else ErrBufferTooSmall
//
// A source that reports a total data size instead of a line stride fails
// rule 2. Validate has no side effects. Arithmetic is done in 64 bits so
// hostile dimensions cannot wrap.
func Validate(f *RawFrame) (Accepted, error) {
	if f.Format != FormatRGBA && f.Format != FormatRGBX {
		return Accepted{}, &RejectError{
			Reason: ErrUnsupportedFormat,
			Format: f.Format,
			Width:  f.Width,
			Height: f.Height,
		}
	}

	wantStride := uint64(f.Width) * bytesPerTexel
	if uint64(f.LineStrideBytes) != wantStride {
		return Accepted{}, &RejectError{
			Reason:   ErrStrideMismatch,
			Format:   f.Format,
			Width:    f.Width,
			Height:   f.Height,
			Stride:   f.LineStrideBytes,
			Expected: wantStride,
		}
	}

	need := uint64(f.LineStrideBytes) * uint64(f.Height)
	if uint64(len(f.Data)) < need {
		return Accepted{}, &RejectError{
			Reason:   ErrBufferTooSmall,
			Format:   f.Format,
			Width:    f.Width,
			Height:   f.Height,
			Stride:   f.LineStrideBytes,
			DataLen:  len(f.Data),
			Expected: need,
		}
	}

	return Accepted{Width: f.Width, Height: f.Height, Stride: f.LineStrideBytes}, nil
}
