package node

import (
	"fmt"
	"log/slog"

	"zigbee-valve/internal/zcl"
)

// StatusPolicy decides whether a failed attribute write still actuates.
type StatusPolicy string

const (
	// StatusAlways actuates on every OnOff change notification, whatever its
	// status.
	StatusAlways StatusPolicy = "always"
	// StatusSuccessOnly actuates only on successful writes.
	StatusSuccessOnly StatusPolicy = "success_only"
)

// ParseStatusPolicy parses a config value; empty means StatusAlways.
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch StatusPolicy(s) {
	case "", StatusAlways:
		return StatusAlways, nil
	case StatusSuccessOnly:
		return StatusSuccessOnly, nil
	}
	return "", fmt.Errorf("unknown status policy %q (want %q or %q)", s, StatusAlways, StatusSuccessOnly)
}

// Actuator drives the valve.
type Actuator interface {
	SetValve(open bool)
}

// Dispatcher turns attribute change notifications into valve commands.
type Dispatcher struct {
	valve  Actuator
	policy StatusPolicy
	events *EventBus
	logger *slog.Logger
}

func NewDispatcher(valve Actuator, policy StatusPolicy, events *EventBus, logger *slog.Logger) *Dispatcher {
	if policy == "" {
		policy = StatusAlways
	}
	return &Dispatcher{valve: valve, policy: policy, events: events, logger: logger}
}

// OnAttributeChanged handles one change notification from the attribute store.
func (d *Dispatcher) OnAttributeChanged(c zcl.AttributeChange) {
	log := d.logger.With(
		"ep", c.Endpoint,
		"cluster", fmt.Sprintf("0x%04X", c.ClusterID),
		"attr", fmt.Sprintf("0x%04X", c.AttrID),
		"status", fmt.Sprintf("0x%02X", c.Status))

	if c.ClusterID != zcl.ClusterOnOff || c.AttrID != zcl.AttrOnOff {
		log.Info("attribute change ignored", "size", len(c.Value))
		return
	}
	if len(c.Value) == 0 {
		log.Warn("on/off change without value")
		return
	}

	open := c.Value[0] != 0
	applied := c.Status == zcl.StatusSuccess || d.policy == StatusAlways
	if applied {
		log.Info("on/off change", "open", open)
		d.valve.SetValve(open)
		d.events.Publish(EventValve, ValveData{Open: open})
	} else {
		log.Info("on/off change rejected by status policy", "open", open, "policy", d.policy)
	}
	d.events.Publish(EventAttributeWrite, AttributeWriteData{
		Endpoint:  c.Endpoint,
		ClusterID: c.ClusterID,
		AttrID:    c.AttrID,
		Status:    c.Status,
		Applied:   applied,
	})
}
