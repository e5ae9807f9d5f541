// Package notify publishes session events to an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/session"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	disconnectWait = 250 // ms
)

// Publisher is the part of an MQTT client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Notifier publishes session events as JSON to <topic>/<session_id>/<event type>.
type Notifier struct {
	client Publisher
	topic  string
	qos    byte
	logger *slog.Logger

	published atomic.Uint64
	failures  atomic.Uint64
	onClose   func()
}

// New creates a notifier over an existing client.
func New(client Publisher, topic string) *Notifier {
	return &Notifier{
		client: client,
		topic:  topic,
		qos:    1,
		logger: slog.Default().With("component", "notify"),
	}
}

// Connect dials the broker from cfg and returns a notifier using it.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Notifier, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is not configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rollcall-" + uuid.NewString()[:8]
	}

	logger := slog.Default().With("component", "notify")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		client.Disconnect(disconnectWait)
		return nil, errors.New("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(disconnectWait)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	n := New(client, cfg.Topic)
	n.onClose = func() { client.Disconnect(disconnectWait) }
	return n, nil
}

// Publish sends one event.
func (n *Notifier) Publish(ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.failures.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/%s", n.topic, ev.SessionID, ev.Type)
	token := n.client.Publish(topic, n.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		n.failures.Add(1)
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		n.failures.Add(1)
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	n.published.Add(1)
	n.logger.Debug("event published", "topic", topic, "size", len(payload))
	return nil
}

// Run forwards events until the channel closes or ctx ends.
// Publish failures are logged and do not stop forwarding.
func (n *Notifier) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.Publish(ev); err != nil {
				n.logger.Warn("failed to publish session event", "session_id", ev.SessionID, "type", ev.Type, "error", err)
			}
		}
	}
}

// Stats returns the number of published and failed events.
func (n *Notifier) Stats() (published, failed uint64) {
	return n.published.Load(), n.failures.Load()
}

// Close disconnects a client created by Connect.
func (n *Notifier) Close() {
	if n.onClose != nil {
		n.onClose()
		n.logger.Info("mqtt disconnected")
	}
}
