package node

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names a node event.
type EventType string

const (
	EventCommissioning  EventType = "commissioning"
	EventNetworkJoined  EventType = "network_joined"
	EventValve          EventType = "valve"
	EventBattery        EventType = "battery"
	EventAttributeWrite EventType = "attribute_write"
)

// Event is one notification published by the node.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// CommissioningData accompanies EventCommissioning.
type CommissioningData struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

// NetworkData accompanies EventNetworkJoined.
type NetworkData struct {
	Channel   uint8  `json:"channel"`
	PanID     uint16 `json:"pan_id"`
	ExtPanID  string `json:"ext_pan_id"`
	ShortAddr uint16 `json:"short_addr"`
}

// ValveData accompanies EventValve.
type ValveData struct {
	Open bool `json:"open"`
}

// BatteryData accompanies EventBattery.
type BatteryData struct {
	Voltage    float64 `json:"voltage"`
	Percentage uint8   `json:"percentage"`
}

// AttributeWriteData accompanies EventAttributeWrite.
type AttributeWriteData struct {
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	AttrID    uint16 `json:"attr_id"`
	Status    uint8  `json:"status"`
	Applied   bool   `json:"applied"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans node events out to subscribers. Handlers run synchronously on
// the publishing goroutine; a panicking handler is recovered and logged.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[EventType]map[uint64]EventHandler
	wildcard map[uint64]EventHandler
	nextID   uint64
	logger   *slog.Logger
	now      func() time.Time
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		byType:   make(map[EventType]map[uint64]EventHandler),
		wildcard: make(map[uint64]EventHandler),
		logger:   logger,
		now:      time.Now,
	}
}

// On subscribes to one event type. The returned func unsubscribes.
func (eb *EventBus) On(t EventType, h EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.byType[t] == nil {
		eb.byType[t] = make(map[uint64]EventHandler)
	}
	eb.byType[t][id] = h
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.byType[t], id)
	}
}

// OnAll subscribes to every event. The returned func unsubscribes.
func (eb *EventBus) OnAll(h EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.wildcard[id] = h
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.wildcard, id)
	}
}

// Publish stamps and delivers an event of type t carrying data.
func (eb *EventBus) Publish(t EventType, data any) {
	if eb == nil {
		return
	}
	ev := Event{Type: t, Time: eb.now(), Data: data}

	eb.mu.RLock()
	hs := make([]EventHandler, 0, len(eb.byType[t])+len(eb.wildcard))
	for _, h := range eb.byType[t] {
		hs = append(hs, h)
	}
	for _, h := range eb.wildcard {
		hs = append(hs, h)
	}
	eb.mu.RUnlock()

	for _, h := range hs {
		eb.deliver(h, ev)
	}
}

func (eb *EventBus) deliver(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
