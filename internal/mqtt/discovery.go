//go:build !no_mqtt

package mqtt

import "strings"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/zigbee_valve_garden/battery/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// sanitizeTopic lowercases name and replaces anything unsafe in a topic level.
func sanitizeTopic(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(strings.TrimSpace(name)))
}

// buildDiscovery generates the HA entities of the valve: its open state,
// battery level, battery voltage and commissioning state.
func buildDiscovery(device, manufacturer, model, prefix string) []discoveryMsg {
	nodeID := "zigbee_valve_" + device
	stateTopic := prefix + "/" + device
	avail := stateTopic + "/availability"
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: manufacturer,
		Model:        model,
		Name:         device,
	}

	entity := func(component, key string, d haDiscovery) discoveryMsg {
		d.UniqueID = nodeID + "_" + key
		d.StateTopic = stateTopic
		d.AvailabilityTopic = avail
		d.Device = haDev
		return discoveryMsg{
			Topic:   "homeassistant/" + component + "/" + nodeID + "/" + key + "/config",
			Payload: mustJSON(d),
		}
	}

	return []discoveryMsg{
		entity("binary_sensor", "valve", haDiscovery{
			Name:          device + " Valve",
			DeviceClass:   "opening",
			ValueTemplate: "{{ value_json.state }}",
			PayloadOn:     "ON",
			PayloadOff:    "OFF",
		}),
		entity("sensor", "battery", haDiscovery{
			Name:              device + " Battery",
			DeviceClass:       "battery",
			StateClass:        "measurement",
			UnitOfMeasurement: "%",
			ValueTemplate:     "{{ value_json.battery }}",
		}),
		entity("sensor", "voltage", haDiscovery{
			Name:              device + " Voltage",
			DeviceClass:       "voltage",
			StateClass:        "measurement",
			UnitOfMeasurement: "V",
			ValueTemplate:     "{{ value_json.voltage }}",
			EntityCategory:    "diagnostic",
		}),
		entity("sensor", "commissioning", haDiscovery{
			Name:           device + " Network",
			ValueTemplate:  "{{ value_json.commissioning }}",
			EntityCategory: "diagnostic",
		}),
	}
}
