package streamcapture

import (
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-viewer/modules/compute"
	"github.com/e7canasta/orion-viewer/modules/source"
	"github.com/e7canasta/orion-viewer/modules/stream-capture/internal/reconnect"
)

var (
	// ErrInitialization means discovery could not be started at all.
	ErrInitialization = errors.New("streamcapture: initialization failed")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("streamcapture: loop already started")
)

// State is the capture loop state.
type State int32

const (
	StateStarting State = iota
	StateDiscovering
	StateConnected
	StateCapturing
	StateReconnecting
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateCapturing:
		return "capturing"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ReconnectConfig is the backoff schedule between connection attempts.
// Attempts are unlimited.
type ReconnectConfig = reconnect.Config

// DefaultReconnectConfig returns 1s initial delay doubling up to 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return reconnect.DefaultConfig()
}

// Config contains configuration for the capture loop.
type Config struct {
	// TargetName selects the source by exact name. Empty takes the first found.
	TargetName string
	// ExtraTargets are additional hosts or subnets to search
	ExtraTargets []source.Target
	// DiscoveryWindow bounds each discovery round (default 1s)
	DiscoveryWindow time.Duration
	// PollTimeout bounds each frame poll (default 2s)
	PollTimeout time.Duration
	// Reconnect is the backoff schedule (default 1s → 30s, x2)
	Reconnect ReconnectConfig
	// Postprocess is applied to every accepted frame before publish
	Postprocess compute.Kernel
	// FPSWindow is how many recent frames the FPS statistics cover (default 120)
	FPSWindow int
}

func (c *Config) applyDefaults() {
	if c.DiscoveryWindow == 0 {
		c.DiscoveryWindow = time.Second
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.FPSWindow == 0 {
		c.FPSWindow = 120
	}
	c.Reconnect = c.Reconnect.WithDefaults()
}

func (c *Config) validate() error {
	if c.DiscoveryWindow < 0 {
		return fmt.Errorf("streamcapture: invalid discovery window %v", c.DiscoveryWindow)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("streamcapture: invalid poll timeout %v", c.PollTimeout)
	}
	if c.FPSWindow < 2 {
		return fmt.Errorf("streamcapture: fps window must hold at least 2 frames, got %d", c.FPSWindow)
	}
	if err := validKernel(c.Postprocess); err != nil {
		return err
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fmt.Errorf("streamcapture: %w", err)
	}
	return nil
}

func validKernel(k compute.Kernel) error {
	switch k {
	case compute.KernelNone, compute.KernelGrayscale, compute.KernelGaussianBlur5x5:
		return nil
	default:
		return fmt.Errorf("streamcapture: %w: %v", compute.ErrUnknownKernel, k)
	}
}

// Stats contains capture loop statistics.
type Stats struct {
	// State is the current loop state
	State State
	// Source is the name of the connected source ("" when not connected)
	Source string
	// Target is the configured target name
	Target string
	// Resolution of the last accepted frame (e.g. "1280x720")
	Resolution string
	// Postprocess is the active kernel name
	Postprocess string

	// FramesReceived counts every frame polled from a source
	FramesReceived uint64
	// FramesPublished counts frames handed to the exchange
	FramesPublished uint64
	// FramesRejected counts frames dropped by validation
	FramesRejected uint64
	// Rejections breaks FramesRejected down by reason
	Rejections map[string]uint64
	// LastRejection is the reason of the most recent rejection
	LastRejection string
	// PostprocessErrors counts frames published without postprocessing
	PostprocessErrors uint64

	// DiscoveryMisses counts discovery rounds that found no matching source
	DiscoveryMisses uint64
	// Connects counts successful connections
	Connects uint64
	// Reconnects counts backoff waits
	Reconnects uint32
	// LastError is the most recent transport error
	LastError string

	// Transport error categories
	ErrorsNetwork uint64
	ErrorsCodec   uint64
	ErrorsAuth    uint64
	ErrorsUnknown uint64

	// FPS covers the last Config.FPSWindow published frames
	FPS FPSStats
	// LatencyMS is the time since the last published frame
	LatencyMS int64
	// Uptime is the time since Start
	Uptime time.Duration
}
