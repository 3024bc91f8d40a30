package node

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-valve/internal/power"
	"zigbee-valve/internal/zcl/clusters"
)

type fakeSensor struct {
	readings []power.Reading
	errs     []error
	calls    int
}

func (f *fakeSensor) Read() (power.Reading, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return power.Reading{}, f.errs[i]
	}
	if i < len(f.readings) {
		return f.readings[i], nil
	}
	return f.readings[len(f.readings)-1], nil
}

type update struct {
	ep      uint8
	cluster uint16
	attr    uint16
	value   any
}

type fakeAttrs struct {
	updates []update
	err     error
}

func (f *fakeAttrs) UpdateAttribute(ep uint8, cluster, attr uint16, value any) error {
	f.updates = append(f.updates, update{ep, cluster, attr, value})
	return f.err
}

func TestReporterCycle(t *testing.T) {
	sensor := &fakeSensor{readings: []power.Reading{{Voltage: 3.6, Percentage: 62}}}
	cell := &BatteryCell{}
	attrs := &fakeAttrs{}
	bus := NewEventBus(discardLogger())
	events := recordEvents(bus)
	r := NewReporter(sensor, cell, attrs, bus, 0, discardLogger())

	r.Cycle()

	assert.Equal(t, uint8(62), cell.Load())
	require.Len(t, attrs.updates, 1)
	assert.Equal(t, update{EndpointID, clusters.PowerConfiguration.ID, clusters.PowerBatteryPercentageRemaining, uint8(62)}, attrs.updates[0])
	require.Len(t, *events, 1)
	assert.Equal(t, BatteryData{Voltage: 3.6, Percentage: 62}, (*events)[0].Data)
	assert.Equal(t, DefaultReportPeriod, r.period)
}

func TestReporterReadErrorSkipsCycle(t *testing.T) {
	sensor := &fakeSensor{
		readings: []power.Reading{{}, {Voltage: 3.0, Percentage: 11}},
		errs:     []error{errors.New("adc timeout")},
	}
	cell := &BatteryCell{}
	cell.Store(80)
	attrs := &fakeAttrs{}
	r := NewReporter(sensor, cell, attrs, nil, time.Minute, discardLogger())

	r.Cycle()
	assert.Equal(t, uint8(80), cell.Load(), "previous value kept")
	assert.Empty(t, attrs.updates)

	r.Cycle()
	assert.Equal(t, uint8(11), cell.Load())
	assert.Len(t, attrs.updates, 1)
}

func TestReporterUpdateErrorKeepsCell(t *testing.T) {
	sensor := &fakeSensor{readings: []power.Reading{{Voltage: 3.9, Percentage: 88}}}
	cell := &BatteryCell{}
	attrs := &fakeAttrs{err: errors.New("no such endpoint")}
	r := NewReporter(sensor, cell, attrs, nil, time.Minute, discardLogger())

	r.Cycle()
	assert.Equal(t, uint8(88), cell.Load())
}

type stopRun struct{}

func TestReporterRunReadsThenSleeps(t *testing.T) {
	sensor := &fakeSensor{readings: []power.Reading{{Voltage: 3.7, Percentage: 70}}}
	attrs := &fakeAttrs{}
	r := NewReporter(sensor, &BatteryCell{}, attrs, nil, 30*time.Second, discardLogger())

	var slept []time.Duration
	r.sleep = func(d time.Duration) {
		assert.Equal(t, len(slept)+1, sensor.calls, "read precedes each sleep")
		slept = append(slept, d)
		if len(slept) == 3 {
			panic(stopRun{})
		}
	}

	func() {
		defer func() {
			if rec := recover(); rec != (stopRun{}) {
				panic(rec)
			}
		}()
		r.Run()
	}()

	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, slept)
	assert.Len(t, attrs.updates, 3)
}

func TestBatteryCellClamps(t *testing.T) {
	var c BatteryCell
	assert.Equal(t, uint8(0), c.Load())
	c.Store(42)
	assert.Equal(t, uint8(42), c.Load())
	c.Store(250)
	assert.Equal(t, uint8(100), c.Load())
}
