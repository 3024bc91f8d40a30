//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"zigbee-valve/internal/node"
)

type fakeSource struct {
	bus    *node.EventBus
	status node.Status
}

func (f *fakeSource) Events() *node.EventBus { return f.bus }
func (f *fakeSource) Status() node.Status    { return f.status }

type published struct {
	topic    string
	payload  []byte
	retained bool
}

func newTestBridge(src Source, cfg Config) (*Bridge, *[]published) {
	b := newBridge(src, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	var out []published
	b.pub = func(topic string, payload []byte, retained bool) {
		out = append(out, published{topic, payload, retained})
	}
	return b, &out
}

func TestDiscoveryEntities(t *testing.T) {
	msgs := buildDiscovery("garden", "Espressif", "ESP32C6.Valve", "zigbee2mqtt")
	if len(msgs) != 4 {
		t.Fatalf("got %d discovery messages, want 4", len(msgs))
	}

	byTopic := make(map[string]haDiscovery)
	for _, m := range msgs {
		var d haDiscovery
		if err := json.Unmarshal(m.Payload, &d); err != nil {
			t.Fatalf("%s: %v", m.Topic, err)
		}
		byTopic[m.Topic] = d
	}

	valve, ok := byTopic["homeassistant/binary_sensor/zigbee_valve_garden/valve/config"]
	if !ok {
		t.Fatal("valve discovery missing")
	}
	if valve.DeviceClass != "opening" || valve.PayloadOn != "ON" {
		t.Errorf("valve = %+v", valve)
	}
	if valve.StateTopic != "zigbee2mqtt/garden" {
		t.Errorf("state_topic = %q", valve.StateTopic)
	}
	if valve.AvailabilityTopic != "zigbee2mqtt/garden/availability" {
		t.Errorf("availability_topic = %q", valve.AvailabilityTopic)
	}
	if valve.Device.Model != "ESP32C6.Valve" || valve.Device.Manufacturer != "Espressif" {
		t.Errorf("device = %+v", valve.Device)
	}

	battery := byTopic["homeassistant/sensor/zigbee_valve_garden/battery/config"]
	if battery.UnitOfMeasurement != "%" || battery.DeviceClass != "battery" {
		t.Errorf("battery = %+v", battery)
	}
	if battery.UniqueID != "zigbee_valve_garden_battery" {
		t.Errorf("unique_id = %q", battery.UniqueID)
	}
}

func TestSanitizeTopic(t *testing.T) {
	tests := map[string]string{
		"Garden Valve": "garden_valve",
		" back-yard ":  "back-yard",
		"a/b+#":        "a_b__",
	}
	for in, want := range tests {
		if got := sanitizeTopic(in); got != want {
			t.Errorf("sanitizeTopic(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBridgeMirrorsEvents(t *testing.T) {
	bus := node.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	src := &fakeSource{bus: bus, status: node.Status{Commissioning: "STEERING"}}
	b, out := newTestBridge(src, Config{TopicPrefix: "zigbee2mqtt", DeviceName: "Garden"})
	b.Start()

	bus.Publish(node.EventValve, node.ValveData{Open: true})
	bus.Publish(node.EventBattery, node.BatteryData{Voltage: 3.7, Percentage: 71})
	bus.Publish(node.EventAttributeWrite, node.AttributeWriteData{})

	if len(*out) != 2 {
		t.Fatalf("published %d messages, want 2", len(*out))
	}
	last := (*out)[1]
	if last.topic != "zigbee2mqtt/garden" || !last.retained {
		t.Errorf("last publish = %s retained=%v", last.topic, last.retained)
	}
	var state map[string]any
	if err := json.Unmarshal(last.payload, &state); err != nil {
		t.Fatal(err)
	}
	if state["state"] != "ON" {
		t.Errorf("state = %v", state["state"])
	}
	if state["battery"] != float64(71) {
		t.Errorf("battery = %v", state["battery"])
	}
	if state["commissioning"] != "STEERING" {
		t.Errorf("commissioning = %v", state["commissioning"])
	}
	if state["last_seen"] != "2024-06-01T08:00:00Z" {
		t.Errorf("last_seen = %v", state["last_seen"])
	}

	b.unsub()
	bus.Publish(node.EventValve, node.ValveData{Open: false})
	if len(*out) != 2 {
		t.Error("published after unsubscribe")
	}
}

func TestBridgeJoinAddsNetwork(t *testing.T) {
	bus := node.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b, out := newTestBridge(&fakeSource{bus: bus}, Config{TopicPrefix: "zb"})
	b.Start()

	bus.Publish(node.EventNetworkJoined, node.NetworkData{Channel: 15, PanID: 0x1A62})
	if len(*out) != 1 || (*out)[0].topic != "zb/valve" {
		t.Fatalf("published %+v", *out)
	}
	var state map[string]any
	if err := json.Unmarshal((*out)[0].payload, &state); err != nil {
		t.Fatal(err)
	}
	if state["pan_id"] != "0x1A62" || state["channel"] != float64(15) {
		t.Errorf("state = %v", state)
	}
}

func TestBridgeDiscoveryPublishesRetained(t *testing.T) {
	src := &fakeSource{status: node.Status{Model: "ESP32C6.Valve", Manufacturer: "Espressif"}}
	b, out := newTestBridge(src, Config{TopicPrefix: "zb", DeviceName: "pond"})
	b.publishBridgeState("online")
	b.publishDiscovery()

	if len(*out) != 5 {
		t.Fatalf("published %d messages, want 5", len(*out))
	}
	if (*out)[0].topic != "zb/pond/availability" || string((*out)[0].payload) != "online" {
		t.Errorf("availability = %+v", (*out)[0])
	}
	for _, p := range *out {
		if !p.retained {
			t.Errorf("%s not retained", p.topic)
		}
	}
}
