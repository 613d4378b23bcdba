package source_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-viewer/modules/source"
)

func TestSelect(t *testing.T) {
	candidates := []source.Descriptor{
		{Name: "STUDIO (Cam 1)"},
		{Name: "STUDIO (Cam 2)"},
	}

	tests := []struct {
		name   string
		target string
		want   string
		found  bool
	}{
		{"empty target takes first", "", "STUDIO (Cam 1)", true},
		{"exact match", "STUDIO (Cam 2)", "STUDIO (Cam 2)", true},
		{"no prefix match", "STUDIO", "", false},
		{"case sensitive", "studio (cam 2)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := source.Select(candidates, tt.target)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	_, ok := source.Select(nil, "")
	assert.False(t, ok, "empty candidate list never matches")
}

func TestParseTargets(t *testing.T) {
	targets, err := source.ParseTargets([]string{"192.168.1.10", "10.0.0.0/30", "", "not-an-ip", "10.0.0.1/99"})

	require.Len(t, targets, 2)
	assert.True(t, targets[0].IsHost())
	assert.Equal(t, "192.168.1.10", targets[0].String())
	assert.False(t, targets[1].IsHost())
	assert.Equal(t, "10.0.0.0/30", targets[1].String())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-ip")
	assert.Contains(t, err.Error(), "10.0.0.1/99")
}

func TestParseTargets_AllValid(t *testing.T) {
	targets, err := source.ParseTargets([]string{"::1", "172.16.5.4/32"})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.True(t, targets[1].IsHost(), "/32 is a single host")
}

func TestTargetHosts(t *testing.T) {
	tgt, err := source.ParseTarget("192.168.7.0/29")
	require.NoError(t, err)

	hosts := tgt.Hosts()
	require.Len(t, hosts, 6)
	assert.Equal(t, "192.168.7.1", hosts[0].String())
	assert.Equal(t, "192.168.7.6", hosts[5].String())

	tgt, err = source.ParseTarget("10.1.2.3/24")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.0/24", tgt.String(), "subnet is masked")
	assert.Len(t, tgt.Hosts(), 254)

	tgt, err = source.ParseTarget("10.0.0.0/8")
	require.NoError(t, err)
	assert.Len(t, tgt.Hosts(), 1024, "large subnets are capped")

	tgt, err = source.ParseTarget("10.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, "10.9.9.9", tgt.Hosts()[0].String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg, debug string
		want       source.ErrorCategory
	}{
		{"Unauthorized", "401", source.ErrCategoryAuth},
		{"Internal data stream error", "not negotiated", source.ErrCategoryCodec},
		{"Could not open resource for reading", "Could not connect to server", source.ErrCategoryNetwork},
		{"Connection refused", "", source.ErrCategoryNetwork},
		{"something odd", "", source.ErrCategoryUnknown},
	}
	for _, tt := range tests {
		got := source.Classify(tt.msg, tt.debug)
		assert.Equal(t, tt.want, got, "%s / %s", tt.msg, tt.debug)
	}

	assert.Equal(t, source.ErrCategoryUnknown, source.ClassifyError(nil))
	assert.Equal(t, source.ErrCategoryNetwork, source.ClassifyError(errors.New("read tcp: i/o timeout")))
	assert.Equal(t, "auth", source.ErrCategoryAuth.String())
}
