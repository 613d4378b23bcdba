// Package health serves liveness and readiness endpoints for the viewer.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

// StatsSource is implemented by *streamcapture.Loop.
type StatsSource interface {
	Stats() streamcapture.Stats
}

// Status is the readiness response body.
type Status struct {
	Status          string  `json:"status"` // "ready", "connecting", "stopped"
	State           string  `json:"state"`
	Source          string  `json:"source,omitempty"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	FramesPublished uint64  `json:"frames_published"`
	FPS             float64 `json:"fps"`
	LatencyMS       int64   `json:"latency_ms"`
	Reconnects      uint32  `json:"reconnects"`
	MQTTConnected   *bool   `json:"mqtt_connected,omitempty"`
}

// Server exposes /health and /readiness.
type Server struct {
	source  StatsSource
	mqtt    func() bool
	started time.Time
	server  *http.Server
	addr    net.Addr
}

// NewServer creates a health server on addr. mqttConnected may be nil when
// telemetry is disabled.
func NewServer(addr string, source StatsSource, mqttConnected func() bool) *Server {
	s := &Server{
		source:  source,
		mqtt:    mqttConnected,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.LivenessHandler)
	mux.HandleFunc("GET /readiness", s.ReadinessHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Check returns the current readiness status.
func (s *Server) Check() Status {
	stats := s.source.Stats()

	status := Status{
		State:           stats.State.String(),
		Source:          stats.Source,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		FramesPublished: stats.FramesPublished,
		FPS:             stats.FPS.FPSMean,
		LatencyMS:       stats.LatencyMS,
		Reconnects:      stats.Reconnects,
	}
	if s.mqtt != nil {
		connected := s.mqtt()
		status.MQTTConnected = &connected
	}

	switch stats.State {
	case streamcapture.StateCapturing:
		status.Status = "ready"
	case streamcapture.StateStopped:
		status.Status = "stopped"
	default:
		status.Status = "connecting"
	}
	return status
}

// LivenessHandler handles /health: 200 whenever the process can answer.
func (s *Server) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 200 only while frames are flowing.
func (s *Server) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.Check()

	code := http.StatusOK
	if status.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: write response failed", "error", err)
	}
}

// Start listens and serves in a goroutine. It returns once the listener
// is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()

	slog.Info("health: starting server",
		"addr", s.addr.String(),
		"endpoints", []string{"/health", "/readiness"},
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health: server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
