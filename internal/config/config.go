// Package config loads the viewer configuration from YAML and watches it for
// changes that can be applied without a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

// Config represents the complete viewer configuration
type Config struct {
	// Target is the source name to capture; empty takes the first found
	Target string `yaml:"target"`
	// ExtraTargets are hosts or subnets (a.b.c.d or a.b.c.d/bits) to search
	ExtraTargets []string `yaml:"extra_targets"`
	// TargetsPolicy is how invalid extra targets are handled: ignore, strict
	TargetsPolicy string `yaml:"targets_policy"`

	DiscoveryWindow time.Duration                 `yaml:"discovery_window"`
	PollTimeout     time.Duration                 `yaml:"poll_timeout"`
	Reconnect       streamcapture.ReconnectConfig `yaml:"reconnect"`

	// Postprocess is the kernel name: none, grayscale, gaussian_blur_5x5
	Postprocess string        `yaml:"postprocess"`
	Compute     ComputeConfig `yaml:"compute"`
	Source      SourceConfig  `yaml:"source"`
	Render      RenderConfig  `yaml:"render"`
	MQTT        MQTTConfig    `yaml:"mqtt"`
	Health      HealthConfig  `yaml:"health"`
}

// ComputeConfig selects the postprocessing backend
type ComputeConfig struct {
	Backend string `yaml:"backend"` // auto, gpu, cpu
	Workers int    `yaml:"workers"` // CPU workers (0 = GOMAXPROCS)
}

// SourceConfig selects and configures the source provider
type SourceConfig struct {
	Provider  string          `yaml:"provider"` // gstreamer, synthetic
	GStreamer GStreamerConfig `yaml:"gstreamer"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// GStreamerConfig contains discovery settings for network sources
type GStreamerConfig struct {
	Catalog      []CatalogEntry `yaml:"catalog"`
	ProbePort    int            `yaml:"probe_port"`
	ProbePath    string         `yaml:"probe_path"`
	ProbeTimeout time.Duration  `yaml:"probe_timeout"`
	ProbeLimit   int            `yaml:"probe_limit"`
	ShowLocal    *bool          `yaml:"show_local"`
}

// CatalogEntry is a statically configured source
type CatalogEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SyntheticConfig contains test-pattern source settings
type SyntheticConfig struct {
	Sources []string `yaml:"sources"`
	Width   uint32   `yaml:"width"`
	Height  uint32   `yaml:"height"`
	Format  string   `yaml:"format"` // RGBA, RGBx
	FPS     float64  `yaml:"fps"`
}

// RenderConfig contains consumer-side settings
type RenderConfig struct {
	FPS           float64        `yaml:"fps"`            // render ticks per second
	StatsInterval time.Duration  `yaml:"stats_interval"` // periodic stats log (0 = off)
	DelayFrames   int            `yaml:"delay_frames"`   // hold back N frames before display (0 = latest)
	Snapshot      SnapshotConfig `yaml:"snapshot"`
}

// SnapshotConfig controls saving rendered frames to disk
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Format   string        `yaml:"format"` // png, jpeg, bmp
	Interval time.Duration `yaml:"interval"`
	Quality  int           `yaml:"quality"` // jpeg only
	MaxFiles int           `yaml:"max_files"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Encoding string        `yaml:"encoding"` // json, msgpack
	Interval time.Duration `yaml:"interval"`
	QoS      byte          `yaml:"qos"`
	Topics   MQTTTopics    `yaml:"topics"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Status  string `yaml:"status"`
	Control string `yaml:"control"`
}

// HealthConfig contains the health HTTP endpoint settings
type HealthConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Default returns a configuration that runs without a config file.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

// Load reads, parses and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
