package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-viewer/modules/source"
)

// finder offers the catalog plus RTSP endpoints found by TCP probing.
//
// Probe results accumulate across Sources calls, so a slow subnet sweep
// converges over several discovery rounds instead of needing one long window.
type finder struct {
	cfg     Config
	catalog []source.Descriptor
	hosts   []netip.Addr

	mu     sync.Mutex
	found  map[netip.Addr]bool
	closed bool
}

func newFinder(cfg Config, catalog []source.Descriptor, extra []source.Target) *finder {
	var hosts []netip.Addr
	seen := make(map[netip.Addr]bool)
	for _, t := range extra {
		for _, h := range t.Hosts() {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}

	if len(hosts) > 0 {
		slog.Info("gstreamer: discovery session opened",
			"extra_targets", len(extra),
			"probe_hosts", len(hosts),
		)
	}

	return &finder{
		cfg:     cfg,
		catalog: catalog,
		hosts:   hosts,
		found:   make(map[netip.Addr]bool),
	}
}

// Sources returns the catalog followed by every probed endpoint found so far.
func (f *finder) Sources(ctx context.Context, wait time.Duration) ([]source.Descriptor, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("gstreamer: finder closed")
	}
	f.mu.Unlock()

	if len(f.hosts) > 0 && wait > 0 {
		f.probe(ctx, wait)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]source.Descriptor, 0, len(f.catalog)+len(f.hosts))
	out = append(out, f.catalog...)

	f.mu.Lock()
	probed := make([]netip.Addr, 0, len(f.found))
	for h := range f.found {
		probed = append(probed, h)
	}
	f.mu.Unlock()

	sort.Slice(probed, func(i, j int) bool { return probed[i].Less(probed[j]) })
	for _, h := range probed {
		out = append(out, f.describe(h))
	}
	return out, nil
}

// probe dials every unconfirmed host until the wait window closes.
func (f *finder) probe(ctx context.Context, wait time.Duration) {
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	g, gctx := errgroup.WithContext(wctx)
	g.SetLimit(f.cfg.ProbeLimit)

	for _, h := range f.hosts {
		f.mu.Lock()
		known := f.found[h]
		f.mu.Unlock()
		if known {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if reachable(gctx, f.address(h), f.cfg.ProbeTimeout) {
				f.mu.Lock()
				f.found[h] = true
				f.mu.Unlock()
				slog.Debug("gstreamer: rtsp endpoint found", "address", f.address(h))
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (f *finder) address(h netip.Addr) string {
	return net.JoinHostPort(h.String(), strconv.Itoa(f.cfg.ProbePort))
}

func (f *finder) describe(h netip.Addr) source.Descriptor {
	addr := f.address(h)
	return source.Descriptor{
		Name:    addr,
		URL:     "rtsp://" + addr + f.cfg.ProbePath,
		Address: addr,
		Local:   h.IsLoopback(),
	}
}

// Close ends the session. Idempotent.
func (f *finder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func reachable(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
