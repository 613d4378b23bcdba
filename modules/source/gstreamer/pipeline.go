package gstreamer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// outputCaps restricts the appsink to the two layouts the viewer accepts.
const outputCaps = "video/x-raw,format={ RGBA, RGBx }"

// pipelineElements holds the elements a receiver needs after construction.
type pipelineElements struct {
	pipeline *gst.Pipeline
	decode   *gst.Element
	convert  *gst.Element
	appsink  *app.Sink
}

// createPipeline builds, but does not start, a decoding pipeline for uri.
func createPipeline(uri string) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	decode, err := gst.NewElement("uridecodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create uridecodebin: %w", err)
	}
	decode.SetProperty("uri", uri)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(outputCaps))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	// Latest frame only: never block the decoder on a slow consumer.
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", uint(1))
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(decode, convert, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}

	// uridecodebin has dynamic pads, linked in the pad-added callback.
	if err := gst.ElementLinkMany(convert, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	decode.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		onPadAdded(srcPad, convert)
	})

	return &pipelineElements{
		pipeline: pipeline,
		decode:   decode,
		convert:  convert,
		appsink:  appsink,
	}, nil
}

// onPadAdded links the first raw video pad to videoconvert. Audio and
// subtitle pads are left unlinked.
func onPadAdded(srcPad *gst.Pad, convert *gst.Element) {
	caps := srcPad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		slog.Debug("gstreamer: pad-added without caps, skipping", "pad", srcPad.GetName())
		return
	}

	media := caps.GetStructureAt(0).Name()
	if !strings.HasPrefix(media, "video/") {
		slog.Debug("gstreamer: ignoring non-video pad", "pad", srcPad.GetName(), "media", media)
		return
	}

	sinkPad := convert.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("gstreamer: failed to get sink pad from videoconvert")
		return
	}
	if sinkPad.IsLinked() {
		slog.Debug("gstreamer: video already linked, skipping pad", "pad", srcPad.GetName())
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("gstreamer: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("gstreamer: video pad linked", "pad", srcPad.GetName(), "media", media)
}

// destroyPipeline sets the pipeline to NULL, releasing its resources.
func destroyPipeline(e *pipelineElements) error {
	if e == nil || e.pipeline == nil {
		return nil
	}
	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
