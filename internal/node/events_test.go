package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus(discardLogger())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return at }

	var valve, all []Event
	off := bus.On(EventValve, func(e Event) { valve = append(valve, e) })
	bus.OnAll(func(e Event) { all = append(all, e) })

	bus.Publish(EventValve, ValveData{Open: true})
	bus.Publish(EventBattery, BatteryData{Percentage: 50})
	off()
	bus.Publish(EventValve, ValveData{Open: false})

	require.Len(t, valve, 1)
	assert.Equal(t, Event{Type: EventValve, Time: at, Data: ValveData{Open: true}}, valve[0])
	assert.Len(t, all, 3)
}

func TestEventBusRecoversPanic(t *testing.T) {
	bus := NewEventBus(discardLogger())
	var got int
	bus.OnAll(func(Event) { panic("subscriber bug") })
	bus.OnAll(func(Event) { got++ })

	assert.NotPanics(t, func() { bus.Publish(EventBattery, nil) })
	assert.Equal(t, 1, got)
}

func TestNilEventBusPublish(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.Publish(EventValve, nil) })
}
