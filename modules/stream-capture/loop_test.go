package streamcapture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/frameexchange"
	"github.com/e7canasta/orion-viewer/modules/source/synthetic"
	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

const waitFor = 3 * time.Second

func fastConfig() streamcapture.Config {
	return streamcapture.Config{
		DiscoveryWindow: 10 * time.Millisecond,
		PollTimeout:     20 * time.Millisecond,
		Reconnect: streamcapture.ReconnectConfig{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func syntheticConfig() synthetic.Config {
	cfg := synthetic.DefaultConfig()
	cfg.Width, cfg.Height = 16, 8
	cfg.FPS = 200
	return cfg
}

// stateLog records every transition reported by the loop.
type stateLog struct {
	mu     sync.Mutex
	states []streamcapture.State
}

func (s *stateLog) observe(_, to streamcapture.State) {
	s.mu.Lock()
	s.states = append(s.states, to)
	s.mu.Unlock()
}

func (s *stateLog) seen(state streamcapture.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st == state {
			return true
		}
	}
	return false
}

func (s *stateLog) snapshot() []streamcapture.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]streamcapture.State(nil), s.states...)
}

func startLoop(t *testing.T, scfg synthetic.Config, cfg streamcapture.Config, opts ...streamcapture.Option) (*streamcapture.Loop, frameexchange.Exchange, *stateLog) {
	t.Helper()

	provider, err := synthetic.NewProvider(scfg)
	require.NoError(t, err)

	ex := frameexchange.New()
	log := &stateLog{}
	opts = append(opts, streamcapture.WithStateObserver(log.observe))

	loop, err := streamcapture.NewLoop(provider, ex, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background()))
	t.Cleanup(func() { loop.Stop() })

	return loop, ex, log
}

func TestLoop_CapturesAndPublishes(t *testing.T) {
	scfg := syntheticConfig()
	scfg.Format = frame.FormatRGBX

	loop, ex, log := startLoop(t, scfg, fastConfig())

	var img *frame.Image
	require.Eventually(t, func() bool {
		var ok bool
		img, ok = ex.Take()
		return ok
	}, waitFor, time.Millisecond)

	assert.Equal(t, uint32(16), img.Width)
	assert.Equal(t, uint32(8), img.Height)
	for i := 3; i < len(img.Pix); i += 4 {
		require.Equal(t, byte(255), img.Pix[i], "rgbx alpha forced opaque")
	}

	assert.Equal(t, streamcapture.StateCapturing, loop.State())
	assert.Equal(t, []streamcapture.State{
		streamcapture.StateDiscovering,
		streamcapture.StateConnected,
		streamcapture.StateCapturing,
	}, log.snapshot())

	stats := loop.Stats()
	assert.Equal(t, "synthetic", stats.Source)
	assert.Equal(t, "16x8", stats.Resolution)
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Zero(t, stats.Reconnects)
	assert.Positive(t, stats.FramesPublished)

	require.NoError(t, loop.Stop())
	require.NoError(t, loop.Stop())
	assert.Equal(t, streamcapture.StateStopped, loop.State())

	t.Logf("✅ captured %d frames, fps=%.1f", stats.FramesPublished, stats.FPS.FPSMean)
}

func TestLoop_InitializationFailure(t *testing.T) {
	scfg := syntheticConfig()
	scfg.FailOpen = errors.New("no discovery library")

	provider, err := synthetic.NewProvider(scfg)
	require.NoError(t, err)

	loop, err := streamcapture.NewLoop(provider, frameexchange.New(), fastConfig())
	require.NoError(t, err)

	err = loop.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, streamcapture.ErrInitialization)
	assert.ErrorIs(t, err, scfg.FailOpen)
	assert.Equal(t, streamcapture.StateStopped, loop.State())

	select {
	case <-loop.Done():
	default:
		t.Fatal("Done() not closed after initialization failure")
	}

	assert.ErrorIs(t, loop.Start(context.Background()), streamcapture.ErrAlreadyStarted)
	assert.NoError(t, loop.Stop())
}

// TestLoop_ExactNameMatch validates that a named target never falls back to
// another source, and that retargeting forces a new discovery.
func TestLoop_ExactNameMatch(t *testing.T) {
	scfg := syntheticConfig()
	scfg.Sources = []string{"lobby", "garage"}

	cfg := fastConfig()
	cfg.TargetName = "Garage" // case differs: no match

	loop, ex, _ := startLoop(t, scfg, cfg)

	require.Eventually(t, func() bool {
		return loop.Stats().DiscoveryMisses >= 3
	}, waitFor, time.Millisecond)
	assert.Equal(t, streamcapture.StateDiscovering, loop.State())
	_, ok := ex.Take()
	assert.False(t, ok, "nothing published while discovering")

	loop.SetTargetName("garage")
	require.Eventually(t, func() bool {
		return loop.Stats().Source == "garage" && loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)

	img, ok := func() (*frame.Image, bool) {
		deadline := time.Now().Add(waitFor)
		for time.Now().Before(deadline) {
			if img, ok := ex.Take(); ok {
				return img, true
			}
			time.Sleep(time.Millisecond)
		}
		return nil, false
	}()
	require.True(t, ok)
	assert.Equal(t, "garage", img.SourceName)

	loop.SetTargetName("lobby")
	require.Eventually(t, func() bool {
		return loop.Stats().Source == "lobby"
	}, waitFor, time.Millisecond)
	assert.Zero(t, loop.Stats().Reconnects, "retarget is not a failure")
}

// TestLoop_RetargetWhileDiscoveringConnectsOnce validates that a target
// change picked up by discovery does not tear down the connection it leads to.
func TestLoop_RetargetWhileDiscoveringConnectsOnce(t *testing.T) {
	scfg := syntheticConfig()
	scfg.Sources = []string{"lobby", "garage"}

	provider, err := synthetic.NewProvider(scfg)
	require.NoError(t, err)

	cfg := fastConfig()
	cfg.TargetName = "missing"

	loop, err := streamcapture.NewLoop(provider, frameexchange.New(), cfg)
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background()))
	t.Cleanup(func() { loop.Stop() })

	require.Eventually(t, func() bool {
		return loop.Stats().DiscoveryMisses >= 2
	}, waitFor, time.Millisecond)
	require.Equal(t, streamcapture.StateDiscovering, loop.State())

	loop.SetTargetName("garage")
	require.Eventually(t, func() bool {
		return loop.Stats().Source == "garage" && loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)

	// Give a stale generation check time to fire.
	time.Sleep(100 * time.Millisecond)

	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Equal(t, int64(1), provider.Connects())
	assert.Equal(t, streamcapture.StateCapturing, loop.State())

	t.Logf("✅ retarget during discovery: connects=%d", stats.Connects)
}

func TestLoop_EmptyTargetTakesFirst(t *testing.T) {
	scfg := syntheticConfig()
	scfg.Sources = []string{"first", "second"}

	loop, _, _ := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)
	assert.Equal(t, "first", loop.Stats().Source)
}

func TestLoop_DiscoveryMissStaysDiscovering(t *testing.T) {
	scfg := syntheticConfig()
	scfg.HiddenRounds = 3

	loop, _, log := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)

	stats := loop.Stats()
	assert.Equal(t, uint64(3), stats.DiscoveryMisses)
	assert.False(t, log.seen(streamcapture.StateReconnecting), "a miss is not a failure")
}

func TestLoop_ConnectFailureReconnects(t *testing.T) {
	scfg := syntheticConfig()
	scfg.FailConnects = 2

	loop, _, log := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)

	stats := loop.Stats()
	assert.Equal(t, uint32(2), stats.Reconnects)
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Contains(t, stats.LastError, "injected fault")
	assert.True(t, log.seen(streamcapture.StateReconnecting))
}

func TestLoop_ConnectionLostReconnects(t *testing.T) {
	scfg := syntheticConfig()
	scfg.DropAfter = 3

	loop, _, log := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.Stats().Connects >= 3
	}, waitFor, time.Millisecond)

	stats := loop.Stats()
	assert.GreaterOrEqual(t, stats.Reconnects, uint32(2))
	assert.GreaterOrEqual(t, stats.FramesPublished, uint64(6))
	assert.True(t, log.seen(streamcapture.StateReconnecting))
}

// TestLoop_RejectedFramesAreCounted validates that malformed frames are
// dropped and counted without disturbing the connection.
func TestLoop_RejectedFramesAreCounted(t *testing.T) {
	scfg := syntheticConfig()
	scfg.BadFrameEvery = 2

	loop, _, _ := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.Stats().FramesRejected >= 3
	}, waitFor, time.Millisecond)

	stats := loop.Stats()
	assert.Equal(t, "stride_mismatch", stats.LastRejection)
	assert.Equal(t, stats.FramesRejected, stats.Rejections["stride_mismatch"])
	assert.Positive(t, stats.FramesPublished)
	assert.Zero(t, stats.Reconnects)
	assert.Equal(t, streamcapture.StateCapturing, stats.State)
}

func TestLoop_PollTimeoutIsNotAnError(t *testing.T) {
	scfg := syntheticConfig()
	scfg.FPS = 2 // first frame immediately, then one every 500ms

	loop, _, log := startLoop(t, scfg, fastConfig())

	require.Eventually(t, func() bool {
		return loop.State() == streamcapture.StateCapturing
	}, waitFor, time.Millisecond)

	time.Sleep(200 * time.Millisecond) // ~10 poll timeouts

	assert.Equal(t, streamcapture.StateCapturing, loop.State())
	assert.Zero(t, loop.Stats().Reconnects)
	assert.False(t, log.seen(streamcapture.StateReconnecting))
}

func TestLoop_Postprocess(t *testing.T) {
	cfg := fastConfig()
	cfg.Postprocess = compute.KernelGrayscale

	pipeline := compute.NewPipeline(nil)
	loop, ex, _ := startLoop(t, syntheticConfig(), cfg, streamcapture.WithPipeline(pipeline))

	var img *frame.Image
	require.Eventually(t, func() bool {
		var ok bool
		img, ok = ex.Take()
		return ok
	}, waitFor, time.Millisecond)

	for i := 0; i < len(img.Pix); i += 4 {
		require.Equal(t, img.Pix[i], img.Pix[i+1])
		require.Equal(t, img.Pix[i], img.Pix[i+2])
		require.Equal(t, byte(255), img.Pix[i+3])
	}
	assert.Positive(t, pipeline.Stats().Dispatches)
	assert.Equal(t, "grayscale", loop.Stats().Postprocess)

	require.NoError(t, loop.SetPostprocess(compute.KernelNone))
	assert.Equal(t, "none", loop.Stats().Postprocess)
	assert.ErrorIs(t, loop.SetPostprocess(compute.Kernel(42)), compute.ErrUnknownKernel)
}

// TestLoop_StopDuringBackoff validates that Stop does not wait out a long
// reconnect delay.
func TestLoop_StopDuringBackoff(t *testing.T) {
	scfg := syntheticConfig()
	scfg.FailConnects = 1000

	cfg := fastConfig()
	cfg.Reconnect = streamcapture.ReconnectConfig{
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   1,
	}

	loop, _, _ := startLoop(t, scfg, cfg)

	require.Eventually(t, func() bool {
		return loop.State() == streamcapture.StateReconnecting
	}, waitFor, time.Millisecond)

	start := time.Now()
	require.NoError(t, loop.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, streamcapture.StateStopped, loop.State())
}

func TestLoop_ContextCancelStops(t *testing.T) {
	provider, err := synthetic.NewProvider(syntheticConfig())
	require.NoError(t, err)

	loop, err := streamcapture.NewLoop(provider, frameexchange.New(), fastConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not stop on context cancel")
	}
	assert.Equal(t, streamcapture.StateStopped, loop.State())
	assert.NoError(t, loop.Stop())
}

func TestNewLoop_FailFast(t *testing.T) {
	provider, err := synthetic.NewProvider(syntheticConfig())
	require.NoError(t, err)
	ex := frameexchange.New()

	tests := []struct {
		name    string
		mutate  func(*streamcapture.Config)
		wantErr string
	}{
		{
			name:    "negative poll timeout",
			mutate:  func(c *streamcapture.Config) { c.PollTimeout = -time.Second },
			wantErr: "poll timeout",
		},
		{
			name:    "unknown kernel",
			mutate:  func(c *streamcapture.Config) { c.Postprocess = compute.Kernel(9) },
			wantErr: "unknown kernel",
		},
		{
			name: "cap below initial delay",
			mutate: func(c *streamcapture.Config) {
				c.Reconnect = streamcapture.ReconnectConfig{InitialDelay: time.Second, MaxDelay: time.Millisecond, Multiplier: 2}
			},
			wantErr: "max delay",
		},
		{
			name:    "tiny fps window",
			mutate:  func(c *streamcapture.Config) { c.FPSWindow = 1 },
			wantErr: "fps window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig()
			tt.mutate(&cfg)
			_, err := streamcapture.NewLoop(provider, ex, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err = streamcapture.NewLoop(nil, ex, fastConfig())
	assert.Error(t, err)
	_, err = streamcapture.NewLoop(provider, nil, fastConfig())
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "starting", streamcapture.StateStarting.String())
	assert.Equal(t, "discovering", streamcapture.StateDiscovering.String())
	assert.Equal(t, "connected", streamcapture.StateConnected.String())
	assert.Equal(t, "capturing", streamcapture.StateCapturing.String())
	assert.Equal(t, "reconnecting", streamcapture.StateReconnecting.String())
	assert.Equal(t, "stopped", streamcapture.StateStopped.String())
}

func TestCalculateFPSStats(t *testing.T) {
	times := []time.Time{time.Unix(0, 0), time.Unix(1, 0), time.Unix(2, 0), time.Unix(3, 0)}
	stats := streamcapture.CalculateFPSStats(times, 3*time.Second)
	assert.Equal(t, 4, stats.FramesReceived)
	assert.InDelta(t, 1.333, stats.FPSMean, 0.01)
}
