// Package gstreamer implements source.Provider on top of GStreamer.
//
// Sources come from two places: a static catalog of named URIs (RTSP
// cameras, HTTP streams, local files) and RTSP endpoints found by probing
// extra hosts or subnets given at startup. Connected sources are decoded by
// uridecodebin and converted to RGBA/RGBx before they reach the appsink, so
// every frame handed to the capture loop is in a format the validator
// accepts when the stream behaves.
//
// Pipeline structure:
//
//	uridecodebin → videoconvert → capsfilter(RGBA|RGBx) → appsink
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-viewer/modules/source"
)

// CatalogEntry is a named, statically configured source.
type CatalogEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config configures discovery and decoding.
type Config struct {
	// Catalog lists sources that are always offered by discovery
	Catalog []CatalogEntry

	// ProbePort is the RTSP port probed on extra hosts (default 554)
	ProbePort int
	// ProbePath is appended to probed hosts to build the stream URL
	ProbePath string
	// ProbeTimeout bounds a single TCP probe (default 300ms)
	ProbeTimeout time.Duration
	// ProbeLimit caps concurrent probes (default 64)
	ProbeLimit int

	// ShowLocal includes catalog sources on this machine (file URIs, loopback)
	ShowLocal bool
}

// DefaultConfig returns discovery defaults.
func DefaultConfig() Config {
	return Config{
		ProbePort:    554,
		ProbePath:    "/stream",
		ProbeTimeout: 300 * time.Millisecond,
		ProbeLimit:   64,
		ShowLocal:    true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ProbePort == 0 {
		c.ProbePort = d.ProbePort
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.ProbeLimit <= 0 {
		c.ProbeLimit = d.ProbeLimit
	}
}

// Provider discovers and connects GStreamer sources.
type Provider struct {
	cfg     Config
	catalog []source.Descriptor
}

// NewProvider validates cfg and checks that GStreamer is usable.
//
// Fails fast on malformed catalog URLs or a missing GStreamer install.
func NewProvider(cfg Config) (*Provider, error) {
	cfg.applyDefaults()

	if cfg.ProbePort < 1 || cfg.ProbePort > 65535 {
		return nil, fmt.Errorf("gstreamer: invalid probe port %d", cfg.ProbePort)
	}

	catalog, err := buildCatalog(cfg.Catalog, cfg.ShowLocal)
	if err != nil {
		return nil, err
	}

	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstreamer: not available: %w", err)
	}

	slog.Info("gstreamer: provider created",
		"catalog_sources", len(catalog),
		"probe_port", cfg.ProbePort,
		"show_local", cfg.ShowLocal,
	)

	return &Provider{cfg: cfg, catalog: catalog}, nil
}

// Open starts a discovery session over the catalog and the extra targets.
func (p *Provider) Open(ctx context.Context, extra []source.Target) (source.Finder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newFinder(p.cfg, p.catalog, extra), nil
}

// Connect builds and starts a decoding pipeline for d.
func (p *Provider) Connect(ctx context.Context, d source.Descriptor) (source.Receiver, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("gstreamer: source %q has no URL: %w", d.Name, source.ErrSourceUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newReceiver(d)
}

func buildCatalog(entries []CatalogEntry, showLocal bool) ([]source.Descriptor, error) {
	var errs []error
	seen := make(map[string]bool, len(entries))
	out := make([]source.Descriptor, 0, len(entries))

	for i, e := range entries {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("gstreamer: catalog[%d]: name is required", i))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, fmt.Errorf("gstreamer: catalog[%d]: duplicate name %q", i, e.Name))
			continue
		}
		seen[e.Name] = true

		u, err := url.Parse(e.URL)
		if err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("gstreamer: catalog[%d] %q: invalid url %q", i, e.Name, e.URL))
			continue
		}

		local := isLocalURL(u)
		if local && !showLocal {
			slog.Debug("gstreamer: hiding local source", "name", e.Name, "url", e.URL)
			continue
		}

		out = append(out, source.Descriptor{
			Name:    e.Name,
			URL:     e.URL,
			Address: u.Host,
			Local:   local,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func isLocalURL(u *url.URL) bool {
	if u.Scheme == "file" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// checkGStreamerAvailable creates a throwaway element to prove the GStreamer
// runtime and its core plugins are installed.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	for _, name := range []string{"uridecodebin", "videoconvert", "appsink"} {
		e, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("element %s not available: %w", name, err)
		}
		e.SetState(gst.StateNull)
	}

	return nil
}
