package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

// Config contains emitter settings.
type Config struct {
	Broker       string // host:port or tcp://host:port
	ClientID     string
	Encoding     Encoding
	Interval     time.Duration
	QoS          byte
	StatusTopic  string
	ControlTopic string
}

func (c Config) validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if c.StatusTopic == "" {
		errs = append(errs, errors.New("status topic is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if _, err := ParseEncoding(string(c.Encoding)); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry: invalid config: %w", err)
	}
	return nil
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Emitter publishes status messages to an MQTT broker.
type Emitter struct {
	cfg    Config
	client mqtt.Client

	mu        sync.Mutex
	onConnect []func()

	connected atomic.Bool
	published atomic.Uint64
	errors    atomic.Uint64
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// NewEmitter creates an emitter. The broker is not contacted until Connect.
func NewEmitter(cfg Config) (*Emitter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Emitter{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.connected.Store(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
		e.mu.Lock()
		hooks := append([]func(){}, e.onConnect...)
		e.mu.Unlock()
		for _, fn := range hooks {
			go fn()
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	return e, nil
}

// newEmitterWithClient is used by tests to inject a client.
func newEmitterWithClient(cfg Config, client mqtt.Client) *Emitter {
	e := &Emitter{cfg: cfg, client: client}
	e.connected.Store(client.IsConnected())
	return e
}

// Connect establishes the broker connection.
func (e *Emitter) Connect(ctx context.Context) error {
	slog.Info("telemetry: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout after %v", connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	e.connected.Store(true)
	return nil
}

// OnConnect registers fn to run after every (re)connection. Sessions are
// clean, so subscriptions must be renewed here.
func (e *Emitter) OnConnect(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnect = append(e.onConnect, fn)
}

// Client exposes the MQTT client for the control handler.
func (e *Emitter) Client() mqtt.Client {
	return e.client
}

// Config returns the emitter configuration.
func (e *Emitter) Config() Config {
	return e.cfg
}

// Publish encodes v and publishes it on the status topic.
func (e *Emitter) Publish(v any) error {
	if !e.connected.Load() {
		e.errors.Add(1)
		return ErrNotConnected
	}

	payload, err := e.cfg.Encoding.Marshal(v)
	if err != nil {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: failed to marshal payload: %w", err)
	}

	token := e.client.Publish(e.cfg.StatusTopic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.published.Add(1)
	slog.Debug("telemetry: published",
		"topic", e.cfg.StatusTopic,
		"size", len(payload),
	)
	return nil
}

// Run publishes status() every Config.Interval until ctx is done.
func (e *Emitter) Run(ctx context.Context, status func() Status) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Publish(status()); err != nil {
				slog.Debug("telemetry: status not published", "error", err)
			}
		}
	}
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
	e.connected.Store(false)
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	return Stats{
		Connected: e.connected.Load(),
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
	}
}
