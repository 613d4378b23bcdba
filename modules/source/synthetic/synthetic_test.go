package synthetic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-viewer/modules/frame"
	"github.com/e7canasta/orion-viewer/modules/source"
	"github.com/e7canasta/orion-viewer/modules/source/synthetic"
)

func connect(t *testing.T, cfg synthetic.Config) (*synthetic.Provider, source.Receiver) {
	t.Helper()
	p, err := synthetic.NewProvider(cfg)
	require.NoError(t, err)

	f, err := p.Open(context.Background(), nil)
	require.NoError(t, err)
	defer f.Close()

	srcs, err := f.Sources(context.Background(), time.Millisecond)
	require.NoError(t, err)
	d, ok := source.Select(srcs, "")
	require.True(t, ok)

	r, err := p.Connect(context.Background(), d)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return p, r
}

func TestProvider_FramesValidate(t *testing.T) {
	for _, format := range []frame.PixelFormat{frame.FormatRGBA, frame.FormatRGBX} {
		t.Run(format.String(), func(t *testing.T) {
			cfg := synthetic.DefaultConfig()
			cfg.Width, cfg.Height = 32, 16
			cfg.Format = format
			cfg.FPS = 0

			_, r := connect(t, cfg)

			for i := 1; i <= 3; i++ {
				raw, err := r.Poll(context.Background(), time.Second)
				require.NoError(t, err)
				require.NotNil(t, raw)
				assert.Equal(t, uint64(i), raw.Seq)
				assert.NotEmpty(t, raw.TraceID)
				assert.Equal(t, "synthetic", raw.SourceName)

				acc, err := frame.Validate(raw)
				require.NoError(t, err)
				img := frame.Convert(raw, acc)
				assert.Equal(t, byte(255), img.Pix[3])
			}
		})
	}
}

func TestProvider_TimecodeFollowsFrameInterval(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.FPS = 1000

	_, r := connect(t, cfg)

	for i := 1; i <= 3; i++ {
		raw, err := r.Poll(context.Background(), time.Second)
		require.NoError(t, err)
		require.NotNil(t, raw)
		// 1ms per frame is 10000 units of 100ns.
		assert.Equal(t, int64(i)*10_000, raw.Timecode)
	}
	t.Logf("✅ synthetic timecode advances one frame interval per frame")
}

func TestProvider_PollTimeout(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.FPS = 1 // one frame per second

	_, r := connect(t, cfg)

	raw, err := r.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, raw, "first frame is due immediately")

	start := time.Now()
	raw, err = r.Poll(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, raw, "timeout is not an error")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProvider_FailOpen(t *testing.T) {
	boom := errors.New("no network")
	cfg := synthetic.DefaultConfig()
	cfg.FailOpen = boom

	p, err := synthetic.NewProvider(cfg)
	require.NoError(t, err)

	_, err = p.Open(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestProvider_HiddenRounds(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.HiddenRounds = 2

	p, err := synthetic.NewProvider(cfg)
	require.NoError(t, err)
	f, err := p.Open(context.Background(), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		srcs, err := f.Sources(context.Background(), time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, srcs)
	}
	srcs, err := f.Sources(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, srcs, 1)
}

func TestProvider_FailConnects(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.FailConnects = 2

	p, err := synthetic.NewProvider(cfg)
	require.NoError(t, err)

	d := source.Descriptor{Name: "synthetic"}
	for i := 0; i < 2; i++ {
		_, err := p.Connect(context.Background(), d)
		assert.ErrorIs(t, err, source.ErrSourceUnavailable)
		assert.ErrorIs(t, err, synthetic.ErrInjected)
	}
	r, err := p.Connect(context.Background(), d)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, int64(3), p.Connects())
}

func TestProvider_DropAfter(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.FPS = 0
	cfg.DropAfter = 2

	_, r := connect(t, cfg)

	for i := 0; i < 2; i++ {
		raw, err := r.Poll(context.Background(), time.Second)
		require.NoError(t, err)
		require.NotNil(t, raw)
	}
	_, err := r.Poll(context.Background(), time.Second)
	assert.ErrorIs(t, err, source.ErrConnectionLost)
}

func TestProvider_BadFrames(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.FPS = 0
	cfg.BadFrameEvery = 2

	_, r := connect(t, cfg)

	raw, err := r.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = frame.Validate(raw)
	assert.NoError(t, err)

	raw, err = r.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = frame.Validate(raw)
	assert.ErrorIs(t, err, frame.ErrStrideMismatch)
}

func TestNewProvider_Invalid(t *testing.T) {
	cfg := synthetic.DefaultConfig()
	cfg.Width = 0
	_, err := synthetic.NewProvider(cfg)
	assert.Error(t, err)

	cfg = synthetic.DefaultConfig()
	cfg.FPS = -1
	_, err = synthetic.NewProvider(cfg)
	assert.Error(t, err)
}
