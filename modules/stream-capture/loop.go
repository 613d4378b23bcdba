package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/frameexchange"
	"github.com/e7canasta/orion-viewer/modules/source"
	"github.com/e7canasta/orion-viewer/modules/stream-capture/internal/fpsstats"
	"github.com/e7canasta/orion-viewer/modules/stream-capture/internal/reconnect"
)

// errRetarget ends a connection after SetTargetName; it is not a failure.
var errRetarget = errors.New("streamcapture: target changed")

// Loop is the capture state machine. It owns its discovery session and
// receiver and shares only the exchange with consumers.
type Loop struct {
	provider source.Provider
	exchange frameexchange.Exchange
	cfg      Config

	pipeline     *compute.Pipeline
	pipelineOnce sync.Once
	observers    []func(from, to State)

	// Runtime settings
	target      atomic.Value // string
	targetGen   atomic.Uint64
	postprocess atomic.Int32 // compute.Kernel

	// Lifecycle
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	state     atomic.Int32
	startedAt atomic.Int64 // unix nanos

	// Statistics (atomic for thread-safety)
	framesReceived    atomic.Uint64
	framesPublished   atomic.Uint64
	framesRejected    atomic.Uint64
	postprocessErrors atomic.Uint64
	discoveryMisses   atomic.Uint64
	connects          atomic.Uint64
	lastFrameAt       atomic.Int64 // unix nanos
	width             atomic.Uint32
	height            atomic.Uint32

	// Error telemetry
	errorsNetwork atomic.Uint64
	errorsCodec   atomic.Uint64
	errorsAuth    atomic.Uint64
	errorsUnknown atomic.Uint64

	statsMu       sync.Mutex
	rejections    map[string]uint64
	lastRejection string
	lastError     string
	sourceName    string

	reconnectState reconnect.State
	fps            *fpsstats.Window
}

// NewLoop creates a capture loop with fail-fast validation of cfg.
func NewLoop(provider source.Provider, exchange frameexchange.Exchange, cfg Config, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, fmt.Errorf("streamcapture: provider is required")
	}
	if exchange == nil {
		return nil, fmt.Errorf("streamcapture: exchange is required")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &Loop{
		provider:   provider,
		exchange:   exchange,
		cfg:        cfg,
		done:       make(chan struct{}),
		rejections: make(map[string]uint64),
		fps:        fpsstats.NewWindow(cfg.FPSWindow),
	}
	l.target.Store(cfg.TargetName)
	l.postprocess.Store(int32(cfg.Postprocess))
	l.state.Store(int32(StateStarting))

	for _, opt := range opts {
		opt(l)
	}

	slog.Info("streamcapture: loop created",
		"target", displayTarget(cfg.TargetName),
		"extra_targets", len(cfg.ExtraTargets),
		"discovery_window", cfg.DiscoveryWindow,
		"poll_timeout", cfg.PollTimeout,
		"postprocess", cfg.Postprocess.String(),
	)

	return l, nil
}

// Start opens the discovery session and launches the capture goroutine.
//
// Returns an error wrapping ErrInitialization if the provider cannot open a
// discovery session. Cancelling ctx stops the loop like Stop does.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil || l.stopped {
		return ErrAlreadyStarted
	}

	l.startedAt.Store(time.Now().UnixNano())
	slog.Info("streamcapture: starting", "target", displayTarget(l.targetName()))

	finder, err := l.provider.Open(ctx, l.cfg.ExtraTargets)
	if err != nil {
		l.stopped = true
		l.setState(StateStopped)
		close(l.done)
		slog.Error("streamcapture: failed to open discovery", "error", err)
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go l.run(runCtx, finder)
	return nil
}

// Stop cancels the loop and waits for it to exit.
//
// Idempotent; waits at most 3 seconds for the capture goroutine.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}
	l.stopped = true

	if l.cancel == nil {
		slog.Debug("streamcapture: loop not started, nothing to stop")
		l.setState(StateStopped)
		close(l.done)
		return nil
	}

	slog.Info("streamcapture: stopping")
	l.cancel()

	select {
	case <-l.done:
		slog.Debug("streamcapture: capture goroutine stopped cleanly")
	case <-time.After(3 * time.Second):
		slog.Warn("streamcapture: stop timeout exceeded, capture goroutine still running")
		return fmt.Errorf("streamcapture: stop timed out")
	}

	slog.Info("streamcapture: stopped",
		"frames_published", l.framesPublished.Load(),
		"frames_rejected", l.framesRejected.Load(),
		"reconnects", l.reconnectState.Reconnects(),
		"uptime", time.Since(time.Unix(0, l.startedAt.Load())),
	)
	return nil
}

// Done is closed once the loop has reached StateStopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// SetPostprocess changes the kernel applied to subsequent frames.
func (l *Loop) SetPostprocess(k compute.Kernel) error {
	if err := validKernel(k); err != nil {
		return err
	}
	old := compute.Kernel(l.postprocess.Swap(int32(k)))
	if old != k {
		slog.Info("streamcapture: postprocess changed", "old", old.String(), "new", k.String())
	}
	return nil
}

// SetTargetName changes the source to capture. An active connection to a
// different source is closed and discovery starts over.
func (l *Loop) SetTargetName(name string) {
	old := l.targetName()
	if old == name {
		return
	}
	l.target.Store(name)
	l.targetGen.Add(1)
	slog.Info("streamcapture: target changed",
		"old", displayTarget(old),
		"new", displayTarget(name),
	)
}

func (l *Loop) targetName() string {
	s, _ := l.target.Load().(string)
	return s
}

func (l *Loop) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	slog.Debug("streamcapture: state changed", "from", from.String(), "to", to.String())
	for _, fn := range l.observers {
		fn(from, to)
	}
}

// run is the capture goroutine.
func (l *Loop) run(ctx context.Context, finder source.Finder) {
	defer close(l.done)
	defer l.setState(StateStopped)
	defer finder.Close()

	for ctx.Err() == nil {
		desc, gen, ok := l.discover(ctx, finder)
		if !ok {
			return
		}

		err := l.connectAndCapture(ctx, desc, gen)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRetarget) {
			continue
		}

		l.recordError(err)
		if !l.backoff(ctx, err) {
			return
		}
	}
}

// discover lists sources until one matches the current target. It returns
// the target generation the match was made for.
func (l *Loop) discover(ctx context.Context, finder source.Finder) (source.Descriptor, uint64, bool) {
	l.setState(StateDiscovering)

	waiting := false
	for {
		if ctx.Err() != nil {
			return source.Descriptor{}, 0, false
		}

		// SetTargetName stores the name before bumping the generation, so
		// loading in the opposite order never pairs a new generation with
		// an old name.
		gen := l.targetGen.Load()
		target := l.targetName()
		round := time.Now()
		candidates, err := finder.Sources(ctx, l.cfg.DiscoveryWindow)
		if err != nil {
			if ctx.Err() != nil {
				return source.Descriptor{}, 0, false
			}
			l.discoveryMisses.Add(1)
			l.recordError(err)
			slog.Warn("streamcapture: discovery failed", "error", err)
			if !l.finishRound(ctx, round) {
				return source.Descriptor{}, 0, false
			}
			continue
		}

		if desc, ok := source.Select(candidates, target); ok {
			slog.Info("streamcapture: source found",
				"name", desc.Name,
				"url", desc.URL,
				"local", desc.Local,
				"candidates", len(candidates),
			)
			return desc, gen, true
		}

		l.discoveryMisses.Add(1)
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		if !waiting {
			slog.Info("streamcapture: waiting for source",
				"target", displayTarget(target),
				"candidates", names,
			)
			waiting = true
		} else {
			slog.Debug("streamcapture: source not found yet",
				"target", displayTarget(target),
				"candidates", names,
			)
		}
		if !l.finishRound(ctx, round) {
			return source.Descriptor{}, 0, false
		}
	}
}

// finishRound waits out the rest of a discovery window that the finder
// returned early from, so an empty or failing finder cannot spin.
func (l *Loop) finishRound(ctx context.Context, round time.Time) bool {
	return reconnect.Wait(ctx, l.cfg.DiscoveryWindow-time.Since(round))
}

// connectAndCapture connects to desc and polls it until the connection
// fails, the target changes after gen, or ctx is cancelled.
func (l *Loop) connectAndCapture(ctx context.Context, desc source.Descriptor, gen uint64) error {
	rcv, err := l.provider.Connect(ctx, desc)
	if err != nil {
		if errors.Is(err, source.ErrSourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", source.ErrSourceUnavailable, err)
	}
	defer func() {
		if err := rcv.Close(); err != nil {
			slog.Warn("streamcapture: failed to close receiver", "source", desc.Name, "error", err)
		}
		l.statsMu.Lock()
		l.sourceName = ""
		l.statsMu.Unlock()
	}()

	l.connects.Add(1)
	l.statsMu.Lock()
	l.sourceName = desc.Name
	l.statsMu.Unlock()
	l.setState(StateConnected)

	slog.Info("streamcapture: connected", "source", desc.Name, "url", desc.URL)

	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.targetGen.Load() != gen {
			slog.Info("streamcapture: disconnecting for new target", "source", desc.Name)
			return errRetarget
		}

		raw, err := rcv.Poll(ctx, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, source.ErrConnectionLost) {
				return err
			}
			return fmt.Errorf("%w: %w", source.ErrConnectionLost, err)
		}
		if raw == nil {
			continue
		}

		if first {
			first = false
			l.reconnectState.Reset()
			l.fps.Reset()
			l.setState(StateCapturing)
		}
		l.handleFrame(ctx, raw)
	}
}

// handleFrame validates, converts, postprocesses and publishes one frame.
func (l *Loop) handleFrame(ctx context.Context, raw *frame.RawFrame) {
	l.framesReceived.Add(1)

	acc, err := frame.Validate(raw)
	if err != nil {
		reason := frame.ReasonName(err)
		l.statsMu.Lock()
		l.framesRejected.Add(1)
		l.rejections[reason]++
		l.lastRejection = reason
		l.statsMu.Unlock()

		slog.Debug("streamcapture: frame rejected",
			"seq", raw.Seq,
			"reason", reason,
			"error", err,
			"trace_id", raw.TraceID,
		)
		return
	}

	img := frame.Convert(raw, acc)

	if k := compute.Kernel(l.postprocess.Load()); k != compute.KernelNone {
		out, err := l.computePipeline().ApplyImage(ctx, k, img)
		if err != nil {
			l.postprocessErrors.Add(1)
			slog.Debug("streamcapture: postprocess failed, publishing unprocessed frame",
				"seq", img.Seq,
				"kernel", k.String(),
				"error", err,
			)
		} else {
			img = out
		}
	}

	l.exchange.Publish(img)

	now := time.Now()
	l.framesPublished.Add(1)
	l.lastFrameAt.Store(now.UnixNano())
	l.width.Store(acc.Width)
	l.height.Store(acc.Height)
	l.fps.Add(now)
}

func (l *Loop) computePipeline() *compute.Pipeline {
	l.pipelineOnce.Do(func() {
		if l.pipeline == nil {
			l.pipeline = compute.NewPipeline(nil)
		}
	})
	return l.pipeline
}

// backoff waits before the next connection attempt. Returns false if ctx
// was cancelled during the wait.
func (l *Loop) backoff(ctx context.Context, cause error) bool {
	l.setState(StateReconnecting)

	attempt, delay := l.reconnectState.Next(l.cfg.Reconnect)
	slog.Warn("streamcapture: reconnecting",
		"attempt", attempt,
		"delay", delay,
		"error", cause,
		"category", source.ClassifyError(cause).String(),
	)

	if !reconnect.Wait(ctx, delay) {
		slog.Info("streamcapture: context cancelled during backoff")
		return false
	}
	return true
}

func (l *Loop) recordError(err error) {
	if err == nil {
		return
	}
	switch source.ClassifyError(err) {
	case source.ErrCategoryNetwork:
		l.errorsNetwork.Add(1)
	case source.ErrCategoryCodec:
		l.errorsCodec.Add(1)
	case source.ErrCategoryAuth:
		l.errorsAuth.Add(1)
	default:
		l.errorsUnknown.Add(1)
	}

	l.statsMu.Lock()
	l.lastError = err.Error()
	l.statsMu.Unlock()
}

// Stats returns current loop statistics. Thread-safe.
func (l *Loop) Stats() Stats {
	now := time.Now()

	s := Stats{
		State:             l.State(),
		Target:            l.targetName(),
		Postprocess:       compute.Kernel(l.postprocess.Load()).String(),
		FramesReceived:    l.framesReceived.Load(),
		FramesPublished:   l.framesPublished.Load(),
		PostprocessErrors: l.postprocessErrors.Load(),
		DiscoveryMisses:   l.discoveryMisses.Load(),
		Connects:          l.connects.Load(),
		Reconnects:        l.reconnectState.Reconnects(),
		ErrorsNetwork:     l.errorsNetwork.Load(),
		ErrorsCodec:       l.errorsCodec.Load(),
		ErrorsAuth:        l.errorsAuth.Load(),
		ErrorsUnknown:     l.errorsUnknown.Load(),
		FPS:               *l.fps.Stats(now),
	}

	if w, h := l.width.Load(), l.height.Load(); w > 0 && h > 0 {
		s.Resolution = fmt.Sprintf("%dx%d", w, h)
	}
	if last := l.lastFrameAt.Load(); last > 0 {
		s.LatencyMS = now.Sub(time.Unix(0, last)).Milliseconds()
	}

	if started := l.startedAt.Load(); started > 0 {
		s.Uptime = now.Sub(time.Unix(0, started))
	}

	l.statsMu.Lock()
	s.FramesRejected = l.framesRejected.Load()
	s.Source = l.sourceName
	s.LastRejection = l.lastRejection
	s.LastError = l.lastError
	s.Rejections = make(map[string]uint64, len(l.rejections))
	for k, v := range l.rejections {
		s.Rejections[k] = v
	}
	l.statsMu.Unlock()

	return s
}

func displayTarget(name string) string {
	if name == "" {
		return "<first available>"
	}
	return name
}
