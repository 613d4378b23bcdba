package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-viewer/internal/config"
	"github.com/e7canasta/orion-viewer/internal/health"
	"github.com/e7canasta/orion-viewer/internal/snapshot"
	"github.com/e7canasta/orion-viewer/internal/telemetry"
	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/compute/gpu"
	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/frameexchange"
	"github.com/e7canasta/orion-viewer/modules/source"
	"github.com/e7canasta/orion-viewer/modules/source/gstreamer"
	"github.com/e7canasta/orion-viewer/modules/source/synthetic"
	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

const shutdownTimeout = 5 * time.Second

// app wires the capture loop, the exchange and the render side together.
type app struct {
	cfg        *config.Config
	configPath string

	// overrides re-applies command line flags to a reloaded config
	overrides func(*config.Config) error

	exchange frameexchange.Exchange
	pipeline *compute.Pipeline
	loop     *streamcapture.Loop
	renderer *renderer

	saver   *snapshot.Saver
	emitter *telemetry.Emitter
	control *telemetry.Handler
	health  *health.Server
}

func newApp(cfg *config.Config, configPath string) (*app, error) {
	provider, err := newProvider(cfg.Source)
	if err != nil {
		return nil, err
	}

	targets, err := cfg.Targets()
	if err != nil {
		return nil, fmt.Errorf("extra targets: %w", err)
	}

	a := &app{
		cfg:        cfg,
		configPath: configPath,
		exchange:   frameexchange.New(),
		pipeline:   newComputePipeline(cfg.Compute),
	}

	a.loop, err = streamcapture.NewLoop(provider, a.exchange, streamcapture.Config{
		TargetName:      cfg.Target,
		ExtraTargets:    targets,
		DiscoveryWindow: cfg.DiscoveryWindow,
		PollTimeout:     cfg.PollTimeout,
		Reconnect:       cfg.Reconnect,
		Postprocess:     cfg.Kernel(),
	},
		streamcapture.WithPipeline(a.pipeline),
		streamcapture.WithStateObserver(func(from, to streamcapture.State) {
			slog.Info("viewer: capture state changed", "from", from, "to", to)
		}),
	)
	if err != nil {
		return nil, err
	}

	if snap := cfg.Render.Snapshot; snap.Enabled {
		a.saver, err = snapshot.NewSaver(snapshot.Config{
			Dir:      snap.Dir,
			Format:   snap.Format,
			Interval: snap.Interval,
			Quality:  snap.Quality,
			MaxFiles: snap.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
	}

	a.renderer = newRenderer(a.exchange, a.saver, cfg.Render.FPS).withDelay(cfg.Render.DelayFrames)

	if m := cfg.MQTT; m.Enabled {
		a.emitter, err = telemetry.NewEmitter(telemetry.Config{
			Broker:       m.Broker,
			ClientID:     m.ClientID,
			Encoding:     telemetry.Encoding(m.Encoding),
			Interval:     m.Interval,
			QoS:          m.QoS,
			StatusTopic:  m.Topics.Status,
			ControlTopic: m.Topics.Control,
		})
		if err != nil {
			return nil, err
		}
		a.control = telemetry.NewHandler(a.emitter, telemetry.Callbacks{
			OnGetStatus:      a.status,
			OnSetPostprocess: a.setPostprocess,
			OnSetTarget: func(name string) error {
				a.loop.SetTargetName(name)
				return nil
			},
		})
	}

	if cfg.Health.Addr != "" {
		var mqttConnected func() bool
		if a.emitter != nil {
			mqttConnected = func() bool { return a.emitter.Stats().Connected }
		}
		a.health = health.NewServer(cfg.Health.Addr, a.loop, mqttConnected)
	}

	return a, nil
}

func newProvider(cfg config.SourceConfig) (source.Provider, error) {
	switch cfg.Provider {
	case "synthetic":
		s := cfg.Synthetic
		p, err := synthetic.NewProvider(synthetic.Config{
			Sources: s.Sources,
			Width:   s.Width,
			Height:  s.Height,
			Format:  frame.ParsePixelFormat(s.Format),
			FPS:     s.FPS,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		g := cfg.GStreamer
		catalog := make([]gstreamer.CatalogEntry, len(g.Catalog))
		for i, e := range g.Catalog {
			catalog[i] = gstreamer.CatalogEntry{Name: e.Name, URL: e.URL}
		}
		p, err := gstreamer.NewProvider(gstreamer.Config{
			Catalog:      catalog,
			ProbePort:    g.ProbePort,
			ProbePath:    g.ProbePath,
			ProbeTimeout: g.ProbeTimeout,
			ProbeLimit:   g.ProbeLimit,
			ShowLocal:    g.ShowLocal == nil || *g.ShowLocal,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func newComputePipeline(cfg config.ComputeConfig) *compute.Pipeline {
	cpu := compute.CPUConfig{Workers: cfg.Workers}

	if cfg.Backend == "cpu" {
		return compute.NewPipeline(compute.NewCPU(cpu))
	}

	backend := gpu.New(gpu.Config{CPU: cpu})
	if !backend.Ready() && cfg.Backend == "gpu" {
		slog.Warn("viewer: gpu backend requested but unavailable, postprocessing on CPU")
	}
	return compute.NewPipeline(backend)
}

func (a *app) status() telemetry.Status {
	clientID := ""
	if a.emitter != nil {
		clientID = a.emitter.Config().ClientID
	}
	return telemetry.NewStatus(clientID, a.loop.Stats(), a.exchange.Stats(), time.Now())
}

func (a *app) setPostprocess(name string) error {
	k, err := compute.ParseKernel(name)
	if err != nil {
		return err
	}
	return a.loop.SetPostprocess(k)
}

// applyConfig hot-applies a reloaded configuration.
func (a *app) applyConfig(current, next *config.Config) {
	live, restart := config.Diff(current, next)
	if len(restart) > 0 {
		slog.Warn("viewer: config changes need a restart", "changed", restart)
	}
	if len(live) == 0 {
		return
	}

	if current.Target != next.Target {
		a.loop.SetTargetName(next.Target)
	}
	if current.Kernel() != next.Kernel() {
		if err := a.loop.SetPostprocess(next.Kernel()); err != nil {
			slog.Warn("viewer: postprocess not applied", "error", err)
		}
	}
	slog.Info("viewer: config applied", "changes", live)
}

// Run blocks until ctx is done or the capture loop stops.
func (a *app) Run(ctx context.Context) error {
	if a.health != nil {
		if err := a.health.Start(); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
	}

	if err := a.loop.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	if a.emitter != nil {
		if err := a.emitter.Connect(ctx); err != nil {
			slog.Warn("viewer: mqtt unavailable, will keep retrying", "error", err)
		}
		if err := a.control.Start(ctx); err != nil {
			slog.Warn("viewer: control plane unavailable", "error", err)
		}
		go a.emitter.Run(ctx, a.status)
	}

	if a.configPath != "" {
		go a.watchConfig(ctx)
	}

	if a.cfg.Render.StatsInterval > 0 {
		go a.reportStats(ctx, a.cfg.Render.StatsInterval)
	}

	a.renderer.Run(ctx, a.loop.Done())

	a.shutdown()
	printFinalStats(a.loop.Stats(), a.exchange.Stats(), a.renderer.Stats(), a.saver)
	return nil
}

func (a *app) watchConfig(ctx context.Context) {
	current := a.cfg
	err := config.Watch(ctx, a.configPath, func(next *config.Config) {
		current = a.reload(current, next)
	})
	if err != nil {
		slog.Warn("viewer: config watch stopped", "error", err)
	}
}

// reload applies a freshly loaded file config on top of current and returns
// the config now in effect. Command line overrides win over the file, as
// they did at startup.
func (a *app) reload(current, next *config.Config) *config.Config {
	if a.overrides != nil {
		if err := a.overrides(next); err != nil {
			slog.Warn("viewer: reloaded config rejected", "error", err)
			return current
		}
	}
	a.applyConfig(current, next)
	return next
}

func (a *app) reportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(a.loop.Stats(), a.exchange.Stats(), a.renderer.Stats(), a.saver, a.emitter)
		}
	}
}

func (a *app) shutdown() {
	slog.Info("viewer: shutting down", "timeout", shutdownTimeout)

	if err := a.loop.Stop(); err != nil {
		slog.Warn("viewer: capture loop stop", "error", err)
	}
	a.exchange.Close()

	if a.control != nil {
		a.control.Stop()
	}
	if a.emitter != nil {
		a.emitter.Disconnect()
	}
	if a.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.health.Shutdown(ctx); err != nil {
			slog.Warn("viewer: health server shutdown", "error", err)
		}
	}
	if err := a.pipeline.Close(); err != nil {
		slog.Warn("viewer: compute pipeline close", "error", err)
	}
}
