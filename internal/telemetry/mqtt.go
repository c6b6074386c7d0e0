// Package telemetry publishes capture statistics and pipeline faults to an
// MQTT broker as MessagePack payloads.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Options configures the emitter.
type Options struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	StatsTopic  string
	FaultsTopic string
	QoS         byte
}

// Emitter publishes telemetry to an MQTT broker.
type Emitter struct {
	opts Options

	// newClient builds the MQTT client; replaced in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewEmitter creates a new MQTT emitter. Call Connect before publishing.
func NewEmitter(opts Options) *Emitter {
	return &Emitter{
		opts:      opts,
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.opts.Broker)
	opts.SetClientID(e.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", e.opts.Broker,
			"client_id", e.opts.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.opts.Broker,
		)
	}

	e.client = e.newClient(opts)

	slog.Info("telemetry: connecting to mqtt broker", "broker", e.opts.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishStats publishes a stats report on the stats topic.
func (e *Emitter) PublishStats(p StatsPayload) error {
	return e.publish(e.opts.StatsTopic, p)
}

// PublishFault publishes a fault report on the faults topic.
func (e *Emitter) PublishFault(p FaultPayload) error {
	return e.publish(e.opts.FaultsTopic, p)
}

func (e *Emitter) publish(topic string, v any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("telemetry: mqtt not connected")
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("telemetry: failed to marshal payload: %w", err)
	}

	token := e.client.Publish(topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("telemetry: published",
		"topic", topic,
		"qos", e.opts.QoS,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("telemetry: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
