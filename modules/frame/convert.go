package frame

// Convert produces a canonical Image from a validated raw frame.
//
// RGBA bytes are copied as-is. RGBX copies R, G, B and forces A to 255,
// since the padding byte carries no meaning. The destination buffer is the
// only allocation.
func Convert(f *RawFrame, a Accepted) *Image {
	return ConvertInto(nil, f, a)
}

// ConvertInto is Convert with a caller-supplied destination. dst is reused
// when its buffer is large enough; otherwise a new Image is allocated. Pass
// nil to always allocate.
func ConvertInto(dst *Image, f *RawFrame, a Accepted) *Image {
	n := int(a.Width) * int(a.Height) * bytesPerTexel

	if dst == nil || cap(dst.Pix) < n {
		dst = &Image{Pix: make([]byte, n)}
	}
	dst.Pix = dst.Pix[:n]
	dst.Width = a.Width
	dst.Height = a.Height
	dst.Seq = f.Seq
	dst.Timestamp = f.Timestamp
	dst.Timecode = f.Timecode
	dst.SourceName = f.SourceName
	dst.TraceID = f.TraceID

	// Stride equals Width*4, so rows are contiguous and one copy covers the image.
	copy(dst.Pix, f.Data[:n])

	if f.Format == FormatRGBX {
		for i := 3; i < n; i += bytesPerTexel {
			dst.Pix[i] = 0xFF
		}
	}

	return dst
}
