package main

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-viewer/internal/snapshot"
	"github.com/e7canasta/orion-viewer/internal/telemetry"
	"github.com/e7canasta/orion-viewer/modules/frameexchange"
	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

func fmtResolution(w, h uint32) string {
	return fmt.Sprintf("%dx%d", w, h)
}

// printLiveStats prints current statistics from all components
func printLiveStats(
	capture streamcapture.Stats,
	exchange frameexchange.Stats,
	render renderStats,
	saver *snapshot.Saver,
	emitter *telemetry.Emitter,
) {
	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ Viewer Statistics (Uptime: %v)\n", capture.Uptime.Round(time.Second))
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	fmt.Println("│ Capture:")
	fmt.Printf("│   State:              %s\n", capture.State)
	fmt.Printf("│   Source:             %s\n", orDash(capture.Source))
	fmt.Printf("│   Resolution:         %s\n", orDash(capture.Resolution))
	fmt.Printf("│   Postprocess:        %s\n", capture.Postprocess)
	fmt.Printf("│   Frames Received:    %6d frames\n", capture.FramesReceived)
	fmt.Printf("│   Frames Published:   %6d frames\n", capture.FramesPublished)
	fmt.Printf("│   Frames Rejected:    %6d frames (%.1f%%)\n",
		capture.FramesRejected,
		percent(capture.FramesRejected, capture.FramesReceived))
	if capture.LastRejection != "" {
		fmt.Printf("│   Last Rejection:     %s\n", capture.LastRejection)
	}
	stability := "unstable"
	if capture.FPS.IsStable {
		stability = "stable"
	}
	fmt.Printf("│   FPS:                %6.2f fps (σ=%.2f, %s)\n", capture.FPS.FPSMean, capture.FPS.FPSStdDev, stability)
	fmt.Printf("│   Latency:            %6d ms\n", capture.LatencyMS)
	fmt.Printf("│   Reconnects:         %6d\n", capture.Reconnects)
	if capture.LastError != "" {
		fmt.Printf("│   Last Error:         %s\n", capture.LastError)
	}

	fmt.Println("│")
	fmt.Println("│ Display:")
	fmt.Printf("│   Presented:          %6d frames\n", render.Presented)
	if render.Buffered > 0 {
		fmt.Printf("│   Delay Buffer:       %6d frames\n", render.Buffered)
	}
	fmt.Printf("│   Exchange Drops:     %6d frames (%.1f%%)\n",
		exchange.Dropped,
		percent(exchange.Dropped, exchange.Published))
	switch {
	case render.Waiting:
		fmt.Println("│   Status:             waiting for source")
	case render.Stalled:
		fmt.Printf("│   Status:             stalled at seq %d\n", render.LastSeq)
	default:
		fmt.Printf("│   Status:             live (seq %d)\n", render.LastSeq)
	}

	if saver != nil {
		s := saver.Stats()
		fmt.Println("│")
		fmt.Println("│ Snapshots:")
		fmt.Printf("│   Saved:              %6d (%d failed, %d pruned)\n", s.Saved, s.Failed, s.Removed)
	}

	if emitter != nil {
		s := emitter.Stats()
		fmt.Println("│")
		fmt.Println("│ MQTT:")
		fmt.Printf("│   Connected:          %6v\n", s.Connected)
		fmt.Printf("│   Published:          %6d (%d errors)\n", s.Published, s.Errors)
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(
	capture streamcapture.Stats,
	exchange frameexchange.Stats,
	render renderStats,
	saver *snapshot.Saver,
) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("  Frames Published:      %d frames\n", capture.FramesPublished)
	fmt.Printf("  Frames Rejected:       %d frames\n", capture.FramesRejected)
	for reason, n := range capture.Rejections {
		fmt.Printf("    %-20s %d\n", reason+":", n)
	}
	fmt.Printf("  Frames Presented:      %d frames\n", render.Presented)
	fmt.Printf("  Exchange Drops:        %d frames (%.1f%%)\n",
		exchange.Dropped,
		percent(exchange.Dropped, exchange.Published))
	fmt.Printf("  Connections:           %d (%d reconnect waits)\n", capture.Connects, capture.Reconnects)
	fmt.Printf("  Postprocess Errors:    %d\n", capture.PostprocessErrors)

	if saver != nil {
		s := saver.Stats()
		fmt.Println()
		fmt.Printf("  Snapshots Saved:       %d\n", s.Saved)
		if s.Failed > 0 {
			fmt.Printf("  Snapshot Failures:     %d\n", s.Failed)
		}
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
