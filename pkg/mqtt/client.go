// Package mqtt publishes optimizer results and applied plans to a broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

// Client publishes specman events
type Client struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    *Config
	connected atomic.Bool
	now       func() time.Time
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "specman",
		TopicPrefix: "specman",
		QoS:         1,
		Retain:      true,
		Enabled:     false,
	}
}

// Candidate is one ranked assignment in a published result
type Candidate struct {
	Score       float64 `json:"score"`
	Frequencies []int   `json:"frequencies"`
}

// ResultMessage is published after every optimizer run
type ResultMessage struct {
	Timestamp   time.Time   `json:"timestamp"`
	Nodes       []string    `json:"nodes"`
	Channels    []int       `json:"channels"`
	Frequencies []int       `json:"frequencies"`
	Score       float64     `json:"score"`
	Evaluated   int         `json:"evaluated"`
	Top         []Candidate `json:"top,omitempty"`
}

// PlanMessage is published when a plan is pushed to the access points
type PlanMessage struct {
	Timestamp time.Time   `json:"timestamp"`
	DryRun    bool        `json:"dry_run"`
	Radios    []PlanRadio `json:"radios"`
}

// PlanRadio is the outcome for one radio in a plan
type PlanRadio struct {
	Host      string `json:"host"`
	Ifname    string `json:"ifname"`
	Frequency int    `json:"frequency"`
	OK        bool   `json:"ok"`
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})

	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected.Load() {
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

// Topic returns the full topic for a suffix
func (c *Client) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", c.config.TopicPrefix, suffix)
}

// PublishResult publishes an optimizer result to <prefix>/result
func (c *Client) PublishResult(msg ResultMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	return c.publishJSON(c.Topic("result"), msg)
}

// PublishPlan publishes an applied plan to <prefix>/plan
func (c *Client) PublishPlan(msg PlanMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	return c.publishJSON(c.Topic("plan"), msg)
}

// publishJSON publishes JSON payload to MQTT topic
func (c *Client) publishJSON(topic string, payload interface{}) error {
	if !c.config.Enabled || !c.connected.Load() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Debug("MQTT message published", map[string]interface{}{
		"topic": topic,
		"size":  len(data),
	})

	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}
