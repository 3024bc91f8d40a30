//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-valve/internal/node"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *node.Node, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
