package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command" msgpack:"command"`
	Params  map[string]any `json:"params,omitempty" msgpack:"params,omitempty"`
}

// Response acknowledges a Command. It is published on the status topic.
type Response struct {
	CommandAck string `json:"command_ack" msgpack:"command_ack"`
	Status     string `json:"status" msgpack:"status"`
	Data       any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Error      string `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
}

// Callbacks are invoked for recognized commands. A nil callback makes its
// command answer "not implemented".
type Callbacks struct {
	OnGetStatus      func() Status
	OnSetPostprocess func(kernel string) error
	OnSetTarget      func(name string) error
}

// Handler serves control commands received on Config.ControlTopic.
type Handler struct {
	emitter   *Emitter
	callbacks Callbacks
	commands  chan Command

	mu      sync.Mutex
	stopped bool
}

// NewHandler creates a control handler that answers through emitter.
func NewHandler(emitter *Emitter, callbacks Callbacks) *Handler {
	return &Handler{
		emitter:   emitter,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}
}

// Start processes commands until ctx is done or Stop is called. The
// control topic is subscribed now if the broker is reachable, and again on
// every reconnection.
func (h *Handler) Start(ctx context.Context) error {
	if h.emitter.Config().ControlTopic == "" {
		return fmt.Errorf("telemetry: control topic is required")
	}

	h.emitter.OnConnect(func() {
		if err := h.subscribe(); err != nil {
			slog.Warn("telemetry: control plane resubscribe failed", "error", err)
		}
	})
	go h.processCommands(ctx)

	if h.emitter.Stats().Connected {
		return h.subscribe()
	}
	return nil
}

func (h *Handler) subscribe() error {
	cfg := h.emitter.Config()
	slog.Info("telemetry: subscribing to control plane", "topic", cfg.ControlTopic, "qos", cfg.QoS)

	token := h.emitter.Client().Subscribe(cfg.ControlTopic, cfg.QoS, h.onMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("telemetry: control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: control plane subscription failed: %w", err)
	}
	return nil
}

// Stop unsubscribes and ends command processing. Idempotent.
func (h *Handler) Stop() {
	client := h.emitter.Client()
	if client != nil && client.IsConnected() {
		client.Unsubscribe(h.emitter.Config().ControlTopic).WaitTimeout(publishTimeout)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.commands)
	slog.Info("telemetry: control plane handler stopped")
}

func (h *Handler) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := h.Decode(msg.Payload())
	if err != nil {
		slog.Warn("telemetry: failed to parse control command", "error", err)
		h.respond(Response{CommandAck: "unknown", Status: "error", Error: "invalid payload"})
		return
	}

	slog.Info("telemetry: control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("telemetry: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.respond(h.Handle(cmd))
		}
	}
}

// Decode parses a control payload in the emitter's encoding.
func (h *Handler) Decode(payload []byte) (Command, error) {
	var cmd Command
	if err := h.emitter.Config().Encoding.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("telemetry: decode command: %w", err)
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("telemetry: decode command: missing command")
	}
	return cmd, nil
}

// Handle executes cmd and returns its response.
func (h *Handler) Handle(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "set_postprocess":
		if h.callbacks.OnSetPostprocess == nil {
			return notImplemented(resp)
		}
		kernel, ok := cmd.Params["kernel"].(string)
		if !ok {
			return failed(resp, "missing or invalid 'kernel' parameter (expected string: none/grayscale/gaussian_blur_5x5)")
		}
		if err := h.callbacks.OnSetPostprocess(kernel); err != nil {
			return failed(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]any{"postprocess": kernel}

	case "set_target":
		if h.callbacks.OnSetTarget == nil {
			return notImplemented(resp)
		}
		// An empty name selects the first source found.
		name, ok := cmd.Params["name"].(string)
		if !ok {
			return failed(resp, "missing or invalid 'name' parameter (expected string)")
		}
		if err := h.callbacks.OnSetTarget(name); err != nil {
			return failed(resp, err.Error())
		}
		resp.Status = "success"
		resp.Data = map[string]any{"target": name}

	default:
		return failed(resp, fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return resp
}

func notImplemented(resp Response) Response {
	return failed(resp, resp.CommandAck+" not implemented")
}

func failed(resp Response, msg string) Response {
	resp.Status = "error"
	resp.Error = msg
	return resp
}

func (h *Handler) respond(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	if err := h.emitter.Publish(resp); err != nil {
		slog.Error("telemetry: failed to publish response", "command_ack", resp.CommandAck, "error", err)
		return
	}
	slog.Debug("telemetry: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
