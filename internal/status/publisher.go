package status

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	DEFAULT_TOPIC   = "cudasdr/engine"
	PUBLISH_TIMEOUT = 2 * time.Second
)

// Transition is one engine state change
type Transition struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	Device  string    `json:"device,omitempty"`
	Board   string    `json:"board,omitempty"`
	Session string    `json:"session,omitempty"`
	At      time.Time `json:"at"`
}

// Config selects the broker and topic
type Config struct {
	Broker         string
	Topic          string
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
}

// publishClient is the part of mqtt.Client the publisher uses
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher sends each transition as a JSON message. Failures are
// returned to the caller, who logs them; they never stop the engine.
type MQTTPublisher struct {
	client publishClient
	config Config
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(config Config) (*MQTTPublisher, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("no MQTT broker configured")
	}
	if config.Topic == "" {
		config.Topic = DEFAULT_TOPIC
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(clientID(config.ClientIDPrefix))
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[INFO] MQTT: connected to %s", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(PUBLISH_TIMEOUT) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(client, config), nil
}

func newMQTTPublisher(client publishClient, config Config) *MQTTPublisher {
	if config.Topic == "" {
		config.Topic = DEFAULT_TOPIC
	}
	return &MQTTPublisher{client: client, config: config}
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "cudasdr"
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Publish sends t to <topic>/state
func (p *MQTTPublisher) Publish(t Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	topic := p.config.Topic + "/state"
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, data)
	if !token.WaitTimeout(PUBLISH_TIMEOUT) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	log.Printf("[DEBUG] MQTT: published %s -> %s to %s", t.From, t.To, topic)
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
	log.Printf("[INFO] MQTT: disconnected")
}
