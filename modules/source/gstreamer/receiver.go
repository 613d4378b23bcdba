package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/source"
)

// receiver pulls decoded frames from a running pipeline.
type receiver struct {
	desc     source.Descriptor
	elements *pipelineElements

	seq     atomic.Uint64
	started time.Time

	closeOnce sync.Once
}

func newReceiver(d source.Descriptor) (*receiver, error) {
	elements, err := createPipeline(d.URL)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: %s: %v: %w", d.Name, err, source.ErrSourceUnavailable)
	}

	if err := elements.pipeline.SetState(gst.StatePlaying); err != nil {
		_ = destroyPipeline(elements)
		return nil, fmt.Errorf("gstreamer: %s: failed to start pipeline: %v: %w", d.Name, err, source.ErrSourceUnavailable)
	}

	slog.Info("gstreamer: pipeline started",
		"source", d.Name,
		"url", d.URL,
	)

	return &receiver{desc: d, elements: elements, started: time.Now()}, nil
}

// Poll drains pending bus messages, then waits up to timeout for a sample.
func (r *receiver) Poll(ctx context.Context, timeout time.Duration) (*frame.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkBus(); err != nil {
		return nil, err
	}

	sink := r.elements.appsink
	sample := sink.TryPullSample(timeout)
	if sample == nil {
		if sink.IsEOS() {
			return nil, fmt.Errorf("gstreamer: %s: end of stream: %w", r.desc.Name, source.ErrConnectionLost)
		}
		return nil, nil
	}

	return r.toRawFrame(sample)
}

// checkBus turns pipeline errors and EOS into ErrConnectionLost.
func (r *receiver) checkBus() error {
	bus := r.elements.pipeline.GetPipelineBus()

	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream received",
				"source", r.desc.Name,
				"uptime", time.Since(r.started),
				"frames_processed", r.seq.Load(),
			)
			return fmt.Errorf("gstreamer: %s: end of stream: %w", r.desc.Name, source.ErrConnectionLost)

		case gst.MessageError:
			gerr := msg.ParseError()
			category := source.Classify(gerr.Error(), gerr.DebugString())

			slog.Error("gstreamer: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"source", r.desc.Name,
				"uptime", time.Since(r.started),
				"frames_processed", r.seq.Load(),
			)
			return fmt.Errorf("gstreamer: %s: pipeline error [%s]: %s: %w",
				r.desc.Name, category, gerr.Error(), source.ErrConnectionLost)

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			slog.Warn("gstreamer: pipeline warning",
				"source", r.desc.Name,
				"warning", gerr.Error(),
				"debug", gerr.DebugString(),
			)
		}
	}
}

// toRawFrame copies the sample out of GStreamer memory. The row stride
// comes from the negotiated caps, so a buffer shorter than the caps
// promise surfaces as ErrBufferTooSmall in validation.
func (r *receiver) toRawFrame(sample *gst.Sample) (*frame.RawFrame, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstreamer: failed to get buffer from sample, skipping frame", "source", r.desc.Name)
		return nil, nil
	}

	format, width, height := describeCaps(sample.GetCaps())

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstreamer: empty buffer received", "source", r.desc.Name)
		return nil, nil
	}

	// GStreamer reuses the buffer
	pix := make([]byte, len(data))
	copy(pix, data)
	buffer.Unmap()

	f := r.newRawFrame(format, width, height, pix, buffer.PresentationTimestamp())
	return f, nil
}

// newRawFrame wraps copied sample bytes with caps-derived layout and the
// buffer's presentation timestamp.
func (r *receiver) newRawFrame(format frame.PixelFormat, width, height uint32, pix []byte, pts time.Duration) *frame.RawFrame {
	return &frame.RawFrame{
		Format:          format,
		Width:           width,
		Height:          height,
		LineStrideBytes: capsStride(format, width),
		Data:            pix,
		Seq:             r.seq.Add(1),
		Timestamp:       time.Now(),
		Timecode:        timecodeFromPTS(pts),
		SourceName:      r.desc.Name,
		TraceID:         uuid.New().String(),
	}
}

// capsStride is the default row stride GStreamer uses for a packed format
// when no video meta is attached: width times bytes per pixel, rounded up
// to 4. Unknown formats report 0 and are rejected by validation.
func capsStride(format frame.PixelFormat, width uint32) uint32 {
	switch format {
	case frame.FormatRGBA, frame.FormatRGBX, frame.FormatBGRA, frame.FormatBGRX:
		return (width*4 + 3) &^ 3
	case frame.FormatUYVY:
		return (width*2 + 3) &^ 3
	}
	return 0
}

// timecodeFromPTS converts a buffer PTS to 100ns units. An unset PTS
// (gst.ClockTimeNone) maps to 0.
func timecodeFromPTS(pts time.Duration) int64 {
	if pts < 0 {
		return 0
	}
	return int64(pts / 100)
}

func describeCaps(caps *gst.Caps) (frame.PixelFormat, uint32, uint32) {
	if caps == nil || caps.GetSize() == 0 {
		return frame.FormatUnknown, 0, 0
	}
	st := caps.GetStructureAt(0)

	format := frame.FormatUnknown
	if v, err := st.GetValue("format"); err == nil {
		if s, ok := v.(string); ok {
			format = frame.ParsePixelFormat(s)
		}
	}
	return format, capsDimension(st, "width"), capsDimension(st, "height")
}

func capsDimension(st *gst.Structure, field string) uint32 {
	v, err := st.GetValue(field)
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		if n > 0 {
			return uint32(n)
		}
	case int32:
		if n > 0 {
			return uint32(n)
		}
	case uint32:
		return n
	}
	return 0
}

// Close stops the pipeline. Idempotent.
func (r *receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = destroyPipeline(r.elements)
		slog.Info("gstreamer: pipeline stopped",
			"source", r.desc.Name,
			"frames_captured", r.seq.Load(),
			"uptime", time.Since(r.started),
		)
	})
	return err
}
