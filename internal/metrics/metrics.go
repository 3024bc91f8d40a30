// Package metrics exposes node state as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zigbee-valve/internal/commissioning"
	"zigbee-valve/internal/node"
)

// Collector tracks node events in Prometheus gauges and counters.
type Collector struct {
	valveOpen        prometheus.Gauge
	batteryPercent   prometheus.Gauge
	batteryVoltage   prometheus.Gauge
	lastBattery      prometheus.Gauge
	joined           prometheus.Gauge
	channel          prometheus.Gauge
	bootCount        prometheus.Gauge
	valveMoves       prometheus.Counter
	steeringFailures prometheus.Counter
	commissioning    *prometheus.GaugeVec
	attributeWrites  *prometheus.CounterVec

	unsub func()
}

func NewCollector() *Collector {
	return &Collector{
		valveOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_open",
			Help: "Valve position (1=open, 0=closed)",
		}),
		batteryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_battery_percent",
			Help: "Last measured battery percentage",
		}),
		batteryVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_battery_voltage_volts",
			Help: "Last measured battery voltage",
		}),
		lastBattery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_battery_last_sample_timestamp_seconds",
			Help: "Time of the last battery sample (epoch seconds)",
		}),
		joined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_network_joined",
			Help: "1 once the node has joined a network",
		}),
		channel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_network_channel",
			Help: "Radio channel of the joined network",
		}),
		bootCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zigbee_valve_boot_count",
			Help: "Number of boots recorded in persistent storage",
		}),
		valveMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zigbee_valve_actuations_total",
			Help: "Valve commands issued",
		}),
		steeringFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zigbee_valve_steering_failures_total",
			Help: "Failed network steering attempts",
		}),
		commissioning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zigbee_valve_commissioning_state",
			Help: "Current commissioning state (1 for the active state)",
		}, []string{"state"}),
		attributeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zigbee_valve_attribute_writes_total",
			Help: "Remote On/Off attribute changes by ZCL status and whether they actuated",
		}, []string{"status", "applied"}),
	}
}

// Attach subscribes the collector to bus. Only one bus can be attached.
func (c *Collector) Attach(bus *node.EventBus) {
	c.Detach()
	c.unsub = bus.OnAll(c.Observe)
}

// Detach stops following the attached bus.
func (c *Collector) Detach() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// SetBootCount records the persistent boot counter.
func (c *Collector) SetBootCount(n uint32) {
	c.bootCount.Set(float64(n))
}

// Observe updates the metrics from one node event.
func (c *Collector) Observe(ev node.Event) {
	switch d := ev.Data.(type) {
	case node.ValveData:
		c.valveOpen.Set(boolValue(d.Open))
		c.valveMoves.Inc()
	case node.BatteryData:
		c.batteryPercent.Set(float64(d.Percentage))
		c.batteryVoltage.Set(d.Voltage)
		c.lastBattery.Set(float64(ev.Time.Unix()))
	case node.CommissioningData:
		if d.To == commissioning.StateSteeringFailed.String() {
			c.steeringFailures.Inc()
			return
		}
		c.commissioning.Reset()
		c.commissioning.WithLabelValues(d.To).Set(1)
		c.joined.Set(boolValue(d.To == commissioning.StateJoined.String()))
	case node.NetworkData:
		c.channel.Set(float64(d.Channel))
	case node.AttributeWriteData:
		c.attributeWrites.WithLabelValues(fmt.Sprintf("0x%02X", d.Status), fmt.Sprint(d.Applied)).Inc()
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.valveOpen.Describe(ch)
	c.batteryPercent.Describe(ch)
	c.batteryVoltage.Describe(ch)
	c.lastBattery.Describe(ch)
	c.joined.Describe(ch)
	c.channel.Describe(ch)
	c.bootCount.Describe(ch)
	c.valveMoves.Describe(ch)
	c.steeringFailures.Describe(ch)
	c.commissioning.Describe(ch)
	c.attributeWrites.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.valveOpen.Collect(ch)
	c.batteryPercent.Collect(ch)
	c.batteryVoltage.Collect(ch)
	c.lastBattery.Collect(ch)
	c.joined.Collect(ch)
	c.channel.Collect(ch)
	c.bootCount.Collect(ch)
	c.valveMoves.Collect(ch)
	c.steeringFailures.Collect(ch)
	c.commissioning.Collect(ch)
	c.attributeWrites.Collect(ch)
}

// Registry returns a registry holding c plus the Go runtime and process
// collectors.
func Registry(c *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler serves registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
