// Package broker is the pub/sub broker collaborator: the
// core packages depend only on the Publisher interface, never on a
// concrete client, so paho can be swapped for any other MQTT-shaped
// transport without touching automation/state/bridge code.
package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the narrow interface automation.Engine and bridge.Bus
// consume.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Subscriber lets the bridge wire the inbound ".../set" and
// ".../set_<property>" command topics.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Client is the Publisher+Subscriber pair backed by paho.
type Client struct {
	cli    mqtt.Client
	prefix string
}

// Config carries what Connect needs; URL is a full broker URL
// ("tcp://host:1883"), ClientID distinguishes concurrent bridge
// instances on the same broker.
type Config struct {
	URL      string
	ClientID string
	Prefix   string
}

// Connect dials the broker and blocks until the connection completes
// or times out.
func Connect(cfg Config) (*Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("broker: connect to %s timed out", cfg.URL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", cfg.URL, err)
	}
	return &Client{cli: cli, prefix: cfg.Prefix}, nil
}

// Publish implements Publisher.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	token := c.cli.Publish(topic, 0, retain, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker: publish %s timed out", topic)
	}
	return token.Error()
}

// Subscribe implements Subscriber.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	token := c.cli.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker: subscribe %s timed out", topic)
	}
	return token.Error()
}

// Prefix returns the configured topic prefix.
func (c *Client) Prefix() string { return c.prefix }

// Close disconnects cleanly.
func (c *Client) Close() {
	c.cli.Disconnect(250)
}

// StateTopic/AvailabilityTopic/SetTopic build the well-known topic
// shapes shared by every bus on one broker.
func StateTopic(prefix, entityID string) string        { return fmt.Sprintf("%s/%s/state", prefix, entityID) }
func AvailabilityTopic(prefix, entityID string) string  { return fmt.Sprintf("%s/%s/availability", prefix, entityID) }
func SetTopic(prefix, entityID string) string           { return fmt.Sprintf("%s/%s/set", prefix, entityID) }
func SetPropertyTopic(prefix, entityID, prop string) string {
	return fmt.Sprintf("%s/%s/set_%s", prefix, entityID, prop)
}
func BridgeEventTopic(prefix, name string) string { return fmt.Sprintf("%s/bridge/%s", prefix, name) }
