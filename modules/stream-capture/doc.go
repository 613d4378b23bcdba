// Package streamcapture runs the capture side of the viewer: it discovers a
// network video source, connects to it, validates and converts every frame,
// optionally postprocesses it, and publishes it to a frame exchange for the
// renderer.
//
// # Quick Start
//
//	provider, err := gstreamer.NewProvider(gstreamer.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exchange := frameexchange.New()
//
//	loop, err := streamcapture.NewLoop(provider, exchange, streamcapture.Config{
//	    TargetName: "lobby-cam",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := loop.Start(ctx); err != nil {
//	    log.Fatal(err) // ErrInitialization: discovery could not start
//	}
//	defer loop.Stop()
//
//	for range time.Tick(16 * time.Millisecond) {
//	    if img, ok := exchange.Take(); ok {
//	        render(img)
//	    }
//	}
//
// # States
//
//	Starting → Discovering → Connected → Capturing ⇄ Reconnecting → Stopped
//
// The loop is in exactly one state at a time:
//
//   - Starting: opens the discovery session. Failure is fatal and returned
//     from Start as ErrInitialization.
//   - Discovering: lists sources every DiscoveryWindow until one matches the
//     target name exactly (an empty name takes the first source).
//   - Connected: a receiver is open; no frame has arrived yet.
//   - Capturing: frames are flowing. A poll that times out is not an error.
//   - Reconnecting: the connection failed or was lost. The loop waits with
//     capped exponential backoff, then discovers again.
//   - Stopped: Stop was called or the Start context was cancelled.
//
// Frames that fail validation are dropped and counted per reason; they never
// cause a reconnect. The backoff schedule resets on the first frame of each
// connection.
//
// # Thread Safety
//
// Start, Stop, Stats, State, SetPostprocess and SetTargetName are safe for
// concurrent use. The loop itself runs on a single goroutine and only shares
// the exchange with consumers.
package streamcapture
