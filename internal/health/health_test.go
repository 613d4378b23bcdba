package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

type fakeLoop struct {
	state atomic.Int32
}

func (f *fakeLoop) Stats() streamcapture.Stats {
	return streamcapture.Stats{
		State:           streamcapture.State(f.state.Load()),
		Source:          "cam-1",
		FramesPublished: 10,
	}
}

func TestReadiness_FollowsState(t *testing.T) {
	loop := &fakeLoop{}
	s := NewServer("127.0.0.1:0", loop, nil)

	tests := []struct {
		state      streamcapture.State
		wantCode   int
		wantStatus string
	}{
		{streamcapture.StateDiscovering, http.StatusServiceUnavailable, "connecting"},
		{streamcapture.StateConnected, http.StatusServiceUnavailable, "connecting"},
		{streamcapture.StateCapturing, http.StatusOK, "ready"},
		{streamcapture.StateReconnecting, http.StatusServiceUnavailable, "connecting"},
		{streamcapture.StateStopped, http.StatusServiceUnavailable, "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			loop.state.Store(int32(tt.state))

			rec := httptest.NewRecorder()
			s.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.state.String(), body.State)
			assert.Nil(t, body.MQTTConnected)
		})
	}
}

func TestCheck_MQTT(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeLoop{}, func() bool { return true })

	status := s.Check()
	require.NotNil(t, status.MQTTConnected)
	assert.True(t, *status.MQTTConnected)
}

func TestServer_Endpoints(t *testing.T) {
	loop := &fakeLoop{}
	loop.state.Store(int32(streamcapture.StateCapturing))

	s := NewServer("127.0.0.1:0", loop, nil)
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	}()

	base := "http://" + s.Addr().String()
	for _, path := range []string{"/health", "/readiness"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Post(base+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	t.Logf("✅ health server on %s", s.Addr())
}
