package commissioning

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"zigbee-valve/internal/ncp"
)

// Change is published to observers whenever the reported state changes.
// Network is set when To is StateJoined.
type Change struct {
	From    State
	To      State
	Signal  ncp.Signal
	Network ncp.NetworkInfo
}

// Machine applies Transition results against a network stack.
type Machine struct {
	stack  ncp.NCP
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	observers []func(Change)
}

// NewMachine creates a machine in StateUninitialized.
func NewMachine(stack ncp.NCP, logger *slog.Logger) *Machine {
	return &Machine{stack: stack, logger: logger}
}

// OnChange registers an observer. Observers run on the stack loop.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Handle processes one stack signal. It must be called from the stack loop.
func (m *Machine) Handle(sig ncp.Signal) {
	m.mu.Lock()
	prev := m.state
	res := Transition(prev, sig)
	m.state = res.Next
	m.mu.Unlock()

	var net ncp.NetworkInfo
	for _, eff := range res.Effects {
		switch eff.Kind {
		case EffectStartCommissioning:
			m.start(eff.Mode)

		case EffectScheduleRetry:
			m.scheduleStart(eff.Mode, eff.Delay)

		case EffectReportJoined:
			net = m.stack.NetworkInfo()
			net.ExtPanID = m.stack.ExtendedPanID()
			net.PanID = m.stack.PanID()
			m.logger.Info("joined network",
				"ext_pan_id", ncp.FormatExtPanID(net.ExtPanID),
				"pan_id", fmt.Sprintf("0x%04X", net.PanID),
				"channel", net.Channel,
				"short_addr", fmt.Sprintf("0x%04X", net.ShortAddr))

		case EffectReportSteeringFailed:
			m.logger.Warn("network steering failed, retrying", "retry_in", RetryDelay, "err", eff.Err)
			m.publish(Change{From: prev, To: StateSteeringFailed, Signal: sig})

		case EffectReportStartupFailed:
			m.logger.Error("stack startup failed", "signal", sig.Type, "err", eff.Err)

		case EffectReportIgnored:
			m.logger.Info("signal ignored, already joined", "signal", sig.Type)

		case EffectReportUnhandled:
			m.logger.Info("unhandled stack signal", "signal", sig.Type, "ok", sig.OK())
		}
	}

	if res.Next != prev {
		m.logger.Debug("commissioning state", "from", prev, "to", res.Next)
		m.publish(Change{From: prev, To: res.Next, Signal: sig, Network: net})
	}
}

// start requests mode from the stack. A rejected steering request is
// rescheduled so the retry chain never ends without a pending alarm.
func (m *Machine) start(mode ncp.Mode) {
	err := m.stack.StartCommissioning(mode)
	if err == nil {
		return
	}
	if mode != ncp.ModeNetworkSteering {
		m.logger.Error("start commissioning", "mode", mode, "err", err)
		return
	}
	m.logger.Error("start commissioning, retrying", "mode", mode, "retry_in", RetryDelay, "err", err)
	m.scheduleStart(mode, RetryDelay)
}

func (m *Machine) scheduleStart(mode ncp.Mode, delay time.Duration) {
	m.stack.ScheduleAlarm(delay, func() { m.start(mode) })
}

func (m *Machine) publish(c Change) {
	m.mu.RLock()
	obs := slices.Clone(m.observers)
	m.mu.RUnlock()
	for _, fn := range obs {
		fn(c)
	}
}
