package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/source"
)

// Targets policies for invalid extra targets
const (
	PolicyIgnore = "ignore"
	PolicyStrict = "strict"
)

// Validate fills defaults and checks the configuration
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.TargetsPolicy {
	case "":
		cfg.TargetsPolicy = PolicyIgnore
	case PolicyIgnore, PolicyStrict:
	default:
		errs = append(errs, fmt.Errorf("targets_policy must be %q or %q, got %q", PolicyIgnore, PolicyStrict, cfg.TargetsPolicy))
	}
	if cfg.TargetsPolicy == PolicyStrict {
		if _, err := source.ParseTargets(cfg.ExtraTargets); err != nil {
			errs = append(errs, fmt.Errorf("extra_targets: %w", err))
		}
	}

	if cfg.DiscoveryWindow == 0 {
		cfg.DiscoveryWindow = time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.DiscoveryWindow < 0 || cfg.PollTimeout < 0 {
		errs = append(errs, fmt.Errorf("discovery_window and poll_timeout must be > 0"))
	}

	cfg.Reconnect = cfg.Reconnect.WithDefaults()
	if err := cfg.Reconnect.Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := compute.ParseKernel(cfg.Postprocess); err != nil {
		errs = append(errs, fmt.Errorf("postprocess: %w", err))
	}

	errs = append(errs, validateCompute(&cfg.Compute)...)
	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateRender(&cfg.Render)...)
	errs = append(errs, validateMQTT(&cfg.MQTT)...)

	return errors.Join(errs...)
}

func validateCompute(c *ComputeConfig) []error {
	switch c.Backend {
	case "":
		c.Backend = "auto"
	case "auto", "gpu", "cpu":
	default:
		return []error{fmt.Errorf("compute.backend must be auto, gpu or cpu, got %q", c.Backend)}
	}
	if c.Workers < 0 {
		return []error{fmt.Errorf("compute.workers must be >= 0")}
	}
	return nil
}

func validateSource(s *SourceConfig) []error {
	var errs []error

	switch s.Provider {
	case "":
		s.Provider = "gstreamer"
	case "gstreamer", "synthetic":
	default:
		errs = append(errs, fmt.Errorf("source.provider must be gstreamer or synthetic, got %q", s.Provider))
	}

	g := &s.GStreamer
	if g.ProbePort == 0 {
		g.ProbePort = 554
	}
	if g.ProbePort < 1 || g.ProbePort > 65535 {
		errs = append(errs, fmt.Errorf("source.gstreamer.probe_port %d out of range", g.ProbePort))
	}
	if g.ProbePath == "" {
		g.ProbePath = "/stream"
	}
	if g.ProbeTimeout <= 0 {
		g.ProbeTimeout = 300 * time.Millisecond
	}
	if g.ProbeLimit <= 0 {
		g.ProbeLimit = 64
	}
	if g.ShowLocal == nil {
		showLocal := true
		g.ShowLocal = &showLocal
	}
	for i, e := range g.Catalog {
		if e.Name == "" || e.URL == "" {
			errs = append(errs, fmt.Errorf("source.gstreamer.catalog[%d]: name and url are required", i))
		}
	}

	y := &s.Synthetic
	if len(y.Sources) == 0 {
		y.Sources = []string{"synthetic"}
	}
	if y.Width == 0 {
		y.Width = 640
	}
	if y.Height == 0 {
		y.Height = 360
	}
	if y.Format == "" {
		y.Format = "RGBA"
	}
	if f := frame.ParsePixelFormat(y.Format); f != frame.FormatRGBA && f != frame.FormatRGBX {
		errs = append(errs, fmt.Errorf("source.synthetic.format must be RGBA or RGBx, got %q", y.Format))
	}
	if y.FPS == 0 {
		y.FPS = 30
	}
	if y.FPS < 0 {
		errs = append(errs, fmt.Errorf("source.synthetic.fps must be > 0"))
	}

	return errs
}

// MaxDelayFrames bounds the display delay buffer.
const MaxDelayFrames = 180

func validateRender(r *RenderConfig) []error {
	var errs []error

	if r.FPS == 0 {
		r.FPS = 60
	}
	if r.FPS < 0 || r.FPS > 240 {
		errs = append(errs, fmt.Errorf("render.fps must be in (0, 240], got %.1f", r.FPS))
	}
	if r.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("render.stats_interval must be >= 0"))
	}
	if r.DelayFrames < 0 || r.DelayFrames > MaxDelayFrames {
		errs = append(errs, fmt.Errorf("render.delay_frames must be in [0, %d], got %d", MaxDelayFrames, r.DelayFrames))
	}

	s := &r.Snapshot
	if s.Dir == "" {
		s.Dir = "snapshots"
	}
	switch s.Format {
	case "":
		s.Format = "png"
	case "png", "jpeg", "jpg", "bmp":
	default:
		errs = append(errs, fmt.Errorf("render.snapshot.format must be png, jpeg or bmp, got %q", s.Format))
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Second
	}
	if s.Quality == 0 {
		s.Quality = 90
	}
	if s.Quality < 1 || s.Quality > 100 {
		errs = append(errs, fmt.Errorf("render.snapshot.quality must be 1-100"))
	}
	if s.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("render.snapshot.max_files must be >= 0"))
	}

	return errs
}

func validateMQTT(m *MQTTConfig) []error {
	if !m.Enabled {
		return nil
	}

	var errs []error
	if m.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if m.ClientID == "" {
		m.ClientID = "orion-viewer"
	}
	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", m.Encoding))
	}
	if m.Interval == 0 {
		m.Interval = 5 * time.Second
	}
	if m.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("orion/viewer/%s/status", m.ClientID)
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("orion/viewer/%s/control", m.ClientID)
	}
	return errs
}

// Targets parses ExtraTargets under TargetsPolicy. With the ignore policy
// invalid entries are logged and skipped.
func (c *Config) Targets() ([]source.Target, error) {
	targets, err := source.ParseTargets(c.ExtraTargets)
	if err == nil {
		return targets, nil
	}
	if c.TargetsPolicy == PolicyStrict {
		return nil, err
	}
	slog.Warn("config: ignoring invalid extra targets", "error", err, "valid", len(targets))
	return targets, nil
}

// Kernel returns the parsed postprocess kernel.
func (c *Config) Kernel() compute.Kernel {
	k, _ := compute.ParseKernel(c.Postprocess)
	return k
}
