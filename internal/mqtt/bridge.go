//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-valve/internal/node"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	DeviceName  string
}

// Source is the node the bridge mirrors.
type Source interface {
	Events() *node.EventBus
	Status() node.Status
}

// Bridge mirrors node state to MQTT with Home Assistant discovery. It only
// publishes; the valve is commanded over Zigbee.
type Bridge struct {
	client pahomqtt.Client
	src    Source
	prefix string
	device string
	logger *slog.Logger
	unsub  func()
	now    func() time.Time
	pub    func(topic string, payload []byte, retained bool)

	mu    sync.Mutex
	state map[string]any
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(src Source, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(src, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-valve-" + b.device
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishDiscovery()
			b.publishState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

func newBridge(src Source, cfg Config, logger *slog.Logger) *Bridge {
	device := sanitizeTopic(cfg.DeviceName)
	if device == "" {
		device = "valve"
	}
	b := &Bridge{
		src:    src,
		prefix: cfg.TopicPrefix,
		device: device,
		logger: logger.With("component", "mqtt"),
		now:    time.Now,
		state:  make(map[string]any),
	}
	b.pub = b.publish
	return b
}

// Start seeds the state from the node and subscribes to its events.
func (b *Bridge) Start() {
	b.seed(b.src.Status())
	b.unsub = b.src.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "device", b.device)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) seed(s node.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state["state"] = onOff(s.ValveOpen)
	b.state["battery"] = s.BatteryPercentage
	b.state["commissioning"] = s.Commissioning
	if s.Joined {
		b.state["pan_id"] = s.PanID
		b.state["channel"] = s.Channel
	}
}

func (b *Bridge) handleEvent(ev node.Event) {
	b.mu.Lock()
	switch d := ev.Data.(type) {
	case node.ValveData:
		b.state["state"] = onOff(d.Open)
	case node.BatteryData:
		b.state["battery"] = d.Percentage
		b.state["voltage"] = d.Voltage
	case node.CommissioningData:
		b.state["commissioning"] = d.To
	case node.NetworkData:
		b.state["pan_id"] = fmt.Sprintf("0x%04X", d.PanID)
		b.state["channel"] = d.Channel
	default:
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.publishState()
}

func (b *Bridge) publishState() {
	b.mu.Lock()
	b.state["last_seen"] = b.now().UTC().Format(time.RFC3339)
	payload := mustJSON(b.state)
	b.mu.Unlock()
	b.pub(b.stateTopic(), payload, true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.pub(b.availabilityTopic(), []byte(state), true)
}

func (b *Bridge) publishDiscovery() {
	s := b.src.Status()
	for _, msg := range buildDiscovery(b.device, s.Manufacturer, s.Model, b.prefix) {
		b.pub(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "device", b.device)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) stateTopic() string        { return b.prefix + "/" + b.device }
func (b *Bridge) availabilityTopic() string { return b.prefix + "/" + b.device + "/availability" }

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
