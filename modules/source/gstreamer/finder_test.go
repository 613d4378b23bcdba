package gstreamer

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-viewer/modules/source"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestFinder_ProbesExtraTargets(t *testing.T) {
	_, port := listen(t)

	cfg := DefaultConfig()
	cfg.ProbePort = port

	target, err := source.ParseTarget("127.0.0.1")
	require.NoError(t, err)

	f := newFinder(cfg, nil, []source.Target{target})
	defer f.Close()

	got, err := f.Sources(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	assert.Equal(t, addr, got[0].Name)
	assert.Equal(t, "rtsp://"+addr+"/stream", got[0].URL)
	assert.True(t, got[0].Local)

	t.Logf("✅ probed endpoint discovered: %s", got[0].URL)
}

func TestFinder_ClosedPortNotListed(t *testing.T) {
	ln, port := listen(t)
	ln.Close()

	cfg := DefaultConfig()
	cfg.ProbePort = port
	cfg.ProbeTimeout = 100 * time.Millisecond

	target, err := source.ParseTarget("127.0.0.1")
	require.NoError(t, err)

	catalog := []source.Descriptor{{Name: "lobby", URL: "rtsp://10.0.0.5/lobby"}}
	f := newFinder(cfg, catalog, []source.Target{target})

	got, err := f.Sources(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lobby", got[0].Name, "catalog sources come first and always")
}

func TestFinder_Closed(t *testing.T) {
	f := newFinder(DefaultConfig(), nil, nil)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.Sources(context.Background(), 0)
	assert.Error(t, err)
}

func TestFinder_DeduplicatesHosts(t *testing.T) {
	a, err := source.ParseTarget("192.168.1.8")
	require.NoError(t, err)
	b, err := source.ParseTarget("192.168.1.8/30")
	require.NoError(t, err)

	f := newFinder(DefaultConfig(), nil, []source.Target{a, b})
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.168.1.8"),
		netip.MustParseAddr("192.168.1.9"),
		netip.MustParseAddr("192.168.1.10"),
	}, f.hosts)
}

func TestBuildCatalog(t *testing.T) {
	entries := []CatalogEntry{
		{Name: "cam-1", URL: "rtsp://192.168.1.20:554/live"},
		{Name: "clip", URL: "file:///var/media/clip.mp4"},
		{Name: "loop", URL: "rtsp://127.0.0.1:8554/test"},
	}

	all, err := buildCatalog(entries, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[0].Local)
	assert.Equal(t, "192.168.1.20:554", all[0].Address)
	assert.True(t, all[1].Local)
	assert.True(t, all[2].Local)

	remote, err := buildCatalog(entries, false)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, "cam-1", remote[0].Name)
}

func TestBuildCatalog_Invalid(t *testing.T) {
	_, err := buildCatalog([]CatalogEntry{
		{Name: "", URL: "rtsp://a/b"},
		{Name: "x", URL: "not a url"},
		{Name: "y", URL: "rtsp://a/y"},
		{Name: "y", URL: "rtsp://a/y2"},
	}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "invalid url")
	assert.Contains(t, err.Error(), "duplicate name")
}
