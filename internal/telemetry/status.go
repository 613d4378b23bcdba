// Package telemetry publishes capture statistics over MQTT and accepts
// control commands on a companion topic.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-viewer/modules/frameexchange"
	streamcapture "github.com/e7canasta/orion-viewer/modules/stream-capture"
)

// Encoding is the wire format of published payloads and control commands.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ErrUnknownEncoding is returned for encodings other than json and msgpack.
var ErrUnknownEncoding = errors.New("telemetry: unknown encoding")

// ParseEncoding returns the encoding for name ("" means json).
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(name) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// Marshal encodes v.
func (e Encoding) Marshal(v any) ([]byte, error) {
	switch e {
	case EncodingMsgpack:
		return msgpack.Marshal(v)
	case EncodingJSON, "":
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
	}
}

// Unmarshal decodes data into v.
func (e Encoding) Unmarshal(data []byte, v any) error {
	switch e {
	case EncodingMsgpack:
		return msgpack.Unmarshal(data, v)
	case EncodingJSON, "":
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEncoding, string(e))
	}
}

// Status is the periodic status message.
type Status struct {
	ClientID    string `json:"client_id" msgpack:"client_id"`
	TimestampMS int64  `json:"timestamp_ms" msgpack:"timestamp_ms"`

	State       string `json:"state" msgpack:"state"`
	Source      string `json:"source,omitempty" msgpack:"source,omitempty"`
	Target      string `json:"target" msgpack:"target"`
	Resolution  string `json:"resolution,omitempty" msgpack:"resolution,omitempty"`
	Postprocess string `json:"postprocess" msgpack:"postprocess"`

	FramesReceived    uint64            `json:"frames_received" msgpack:"frames_received"`
	FramesPublished   uint64            `json:"frames_published" msgpack:"frames_published"`
	FramesRejected    uint64            `json:"frames_rejected" msgpack:"frames_rejected"`
	Rejections        map[string]uint64 `json:"rejections,omitempty" msgpack:"rejections,omitempty"`
	PostprocessErrors uint64            `json:"postprocess_errors" msgpack:"postprocess_errors"`

	DiscoveryMisses uint64            `json:"discovery_misses" msgpack:"discovery_misses"`
	Connects        uint64            `json:"connects" msgpack:"connects"`
	Reconnects      uint32            `json:"reconnects" msgpack:"reconnects"`
	LastError       string            `json:"last_error,omitempty" msgpack:"last_error,omitempty"`
	Errors          map[string]uint64 `json:"errors" msgpack:"errors"`

	FPS       float64 `json:"fps" msgpack:"fps"`
	FPSStdDev float64 `json:"fps_stddev" msgpack:"fps_stddev"`
	FPSStable bool    `json:"fps_stable" msgpack:"fps_stable"`
	JitterMS  float64 `json:"jitter_ms" msgpack:"jitter_ms"`
	LatencyMS int64   `json:"latency_ms" msgpack:"latency_ms"`
	UptimeS   int64   `json:"uptime_s" msgpack:"uptime_s"`

	ExchangeTaken   uint64 `json:"exchange_taken" msgpack:"exchange_taken"`
	ExchangeDropped uint64 `json:"exchange_dropped" msgpack:"exchange_dropped"`
}

// NewStatus flattens loop and exchange statistics into a Status.
func NewStatus(clientID string, s streamcapture.Stats, ex frameexchange.Stats, now time.Time) Status {
	return Status{
		ClientID:          clientID,
		TimestampMS:       now.UnixMilli(),
		State:             s.State.String(),
		Source:            s.Source,
		Target:            s.Target,
		Resolution:        s.Resolution,
		Postprocess:       s.Postprocess,
		FramesReceived:    s.FramesReceived,
		FramesPublished:   s.FramesPublished,
		FramesRejected:    s.FramesRejected,
		Rejections:        s.Rejections,
		PostprocessErrors: s.PostprocessErrors,
		DiscoveryMisses:   s.DiscoveryMisses,
		Connects:          s.Connects,
		Reconnects:        s.Reconnects,
		LastError:         s.LastError,
		Errors: map[string]uint64{
			"network": s.ErrorsNetwork,
			"codec":   s.ErrorsCodec,
			"auth":    s.ErrorsAuth,
			"unknown": s.ErrorsUnknown,
		},
		FPS:             s.FPS.FPSMean,
		FPSStdDev:       s.FPS.FPSStdDev,
		FPSStable:       s.FPS.IsStable,
		JitterMS:        s.FPS.JitterMean * 1000,
		LatencyMS:       s.LatencyMS,
		UptimeS:         int64(s.Uptime.Seconds()),
		ExchangeTaken:   ex.Taken,
		ExchangeDropped: ex.Dropped,
	}
}
