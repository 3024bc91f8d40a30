package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"zigbee-valve/internal/node"
)

func TestCollectorFollowsEvents(t *testing.T) {
	bus := node.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := NewCollector()
	c.Attach(bus)

	bus.Publish(node.EventCommissioning, node.CommissioningData{From: "STACK_READY", To: "STEERING"})
	bus.Publish(node.EventCommissioning, node.CommissioningData{From: "STEERING", To: "STEERING_FAILED", Error: "no network"})
	bus.Publish(node.EventCommissioning, node.CommissioningData{From: "STEERING", To: "JOINED"})
	bus.Publish(node.EventNetworkJoined, node.NetworkData{Channel: 25})
	bus.Publish(node.EventValve, node.ValveData{Open: true})
	bus.Publish(node.EventAttributeWrite, node.AttributeWriteData{Status: 0x00, Applied: true})
	bus.Publish(node.EventAttributeWrite, node.AttributeWriteData{Status: 0x87, Applied: false})
	bus.Publish(node.EventBattery, node.BatteryData{Voltage: 3.45, Percentage: 38})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"valve open", testutil.ToFloat64(c.valveOpen), 1},
		{"actuations", testutil.ToFloat64(c.valveMoves), 1},
		{"battery percent", testutil.ToFloat64(c.batteryPercent), 38},
		{"battery voltage", testutil.ToFloat64(c.batteryVoltage), 3.45},
		{"joined", testutil.ToFloat64(c.joined), 1},
		{"channel", testutil.ToFloat64(c.channel), 25},
		{"steering failures", testutil.ToFloat64(c.steeringFailures), 1},
		{"state joined", testutil.ToFloat64(c.commissioning.WithLabelValues("JOINED")), 1},
		{"writes applied", testutil.ToFloat64(c.attributeWrites.WithLabelValues("0x00", "true")), 1},
		{"writes rejected", testutil.ToFloat64(c.attributeWrites.WithLabelValues("0x87", "false")), 1},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
	if n := testutil.CollectAndCount(c.commissioning); n != 1 {
		t.Errorf("commissioning series = %d, want 1 (previous state cleared)", n)
	}

	c.Detach()
	bus.Publish(node.EventValve, node.ValveData{Open: false})
	if v := testutil.ToFloat64(c.valveOpen); v != 1 {
		t.Errorf("valve open changed after detach: %v", v)
	}
}

func TestBatteryTimestamp(t *testing.T) {
	c := NewCollector()
	at := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	c.Observe(node.Event{Type: node.EventBattery, Time: at, Data: node.BatteryData{Percentage: 90}})
	if v := testutil.ToFloat64(c.lastBattery); v != float64(at.Unix()) {
		t.Errorf("last sample = %v, want %v", v, at.Unix())
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.SetBootCount(7)
	srv := httptest.NewServer(Handler(Registry(c)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"zigbee_valve_boot_count 7", "zigbee_valve_open 0", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
