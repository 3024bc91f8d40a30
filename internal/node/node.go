// Package node assembles the valve application: it publishes the device's
// endpoint, runs commissioning on the network stack, turns OnOff changes
// into valve movements and keeps the battery attribute current.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zigbee-valve/internal/commissioning"
	"zigbee-valve/internal/ncp"
	"zigbee-valve/internal/store"
	"zigbee-valve/internal/zcl"
	"zigbee-valve/internal/zcl/clusters"
)

// Config holds the node parameters fixed at boot.
type Config struct {
	Stack        ncp.Config
	StatusPolicy StatusPolicy
	ReportPeriod time.Duration
}

// Valve is the actuator as the node sees it.
type Valve interface {
	Actuator
	Open() bool
}

// Deps are the collaborators a node is built from.
type Deps struct {
	Stack  ncp.NCP
	Valve  Valve
	Sensor BatterySensor
	Store  store.Store
	Events *EventBus
	Logger *slog.Logger
}

// Node is the running valve application.
type Node struct {
	cfg      Config
	stack    ncp.NCP
	valve    Valve
	store    store.Store
	attrs    *zcl.Store
	machine  *commissioning.Machine
	dispatch *Dispatcher
	reporter *Reporter
	battery  *BatteryCell
	events   *EventBus
	logger   *slog.Logger
}

// New builds the data model and wires the handlers. Nothing is sent to the
// stack until Start.
func New(deps Deps, cfg Config) (*Node, error) {
	if deps.Stack == nil || deps.Valve == nil || deps.Sensor == nil || deps.Store == nil {
		return nil, errors.New("node: stack, valve, sensor and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = NewEventBus(logger)
	}

	registry := zcl.NewRegistry(logger.With("component", "zcl"))
	if err := clusters.Register(registry); err != nil {
		return nil, fmt.Errorf("register clusters: %w", err)
	}
	attrs := zcl.NewStore(registry, logger.With("component", "zcl"))

	ident := ValveIdentity
	if err := ident.validate(); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	if err := attrs.RegisterEndpoint(ident.endpoint()); err != nil {
		return nil, fmt.Errorf("register endpoint: %w", err)
	}
	if err := attrs.UpdateAttribute(EndpointID, clusters.Basic.ID, clusters.BasicZCLVersion, ident.ZCLVersion); err != nil {
		return nil, fmt.Errorf("set zcl version: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		stack:   deps.Stack,
		valve:   deps.Valve,
		store:   deps.Store,
		attrs:   attrs,
		battery: &BatteryCell{},
		events:  events,
		logger:  logger,
	}
	n.machine = commissioning.NewMachine(deps.Stack, logger.With("component", "commissioning"))
	n.dispatch = NewDispatcher(deps.Valve, cfg.StatusPolicy, events, logger.With("component", "dispatch"))
	n.reporter = NewReporter(deps.Sensor, n.battery, attrs, events, cfg.ReportPeriod, logger.With("component", "battery"))

	attrs.OnChange(n.dispatch.OnAttributeChanged)
	n.machine.OnChange(n.onCommissioningChange)
	deps.Stack.OnSignal(n.machine.Handle)
	deps.Stack.OnFrame(n.handleFrame)
	return n, nil
}

// Start configures the stack, declares the endpoint and starts it without
// autostart so commissioning is driven by the state machine.
func (n *Node) Start(ctx context.Context) error {
	if err := n.stack.Init(ctx, n.cfg.Stack); err != nil {
		return fmt.Errorf("stack init: %w", err)
	}
	ep, _ := n.attrs.Endpoint(EndpointID)
	desc := ncp.SimpleDescriptor{
		Endpoint:      ep.ID,
		ProfileID:     ep.ProfileID,
		DeviceID:      ep.DeviceID,
		DeviceVersion: ep.DeviceVersion,
		InClusters:    ep.ClusterIDs(),
	}
	if err := n.stack.RegisterEndpoint(desc); err != nil {
		return fmt.Errorf("stack endpoint: %w", err)
	}
	if err := n.stack.Start(false); err != nil {
		return fmt.Errorf("stack start: %w", err)
	}
	return nil
}

// RunStack runs the stack loop until ctx is done.
func (n *Node) RunStack(ctx context.Context) error {
	return n.stack.Run(ctx)
}

// Reporter returns the battery reporting loop. Its Run never returns.
func (n *Node) Reporter() *Reporter { return n.reporter }

// Attributes returns the attribute store.
func (n *Node) Attributes() *zcl.Store { return n.attrs }

// Events returns the node's event bus.
func (n *Node) Events() *EventBus { return n.events }

func (n *Node) handleFrame(f ncp.Frame) []byte {
	if f.ProfileID != zcl.ProfileHA {
		n.logger.Debug("frame for foreign profile dropped", "profile", fmt.Sprintf("0x%04X", f.ProfileID))
		return nil
	}
	return n.attrs.HandleFrame(f.DstEP, f.ClusterID, f.Payload)
}

func (n *Node) onCommissioningChange(c commissioning.Change) {
	data := CommissioningData{From: c.From.String(), To: c.To.String()}
	if c.Signal.Err != nil {
		data.Error = c.Signal.Err.Error()
	}
	n.events.Publish(EventCommissioning, data)

	if c.To != commissioning.StateJoined {
		return
	}
	ns := &store.NetworkState{
		Joined:    true,
		Channel:   c.Network.Channel,
		PanID:     c.Network.PanID,
		ExtPanID:  ncp.FormatExtPanID(c.Network.ExtPanID),
		ShortAddr: c.Network.ShortAddr,
		JoinedAt:  time.Now().UTC(),
	}
	if err := n.store.SaveNetworkState(ns); err != nil {
		n.logger.Error("save network state", "err", err)
	}
	n.events.Publish(EventNetworkJoined, NetworkData{
		Channel:   ns.Channel,
		PanID:     ns.PanID,
		ExtPanID:  ns.ExtPanID,
		ShortAddr: ns.ShortAddr,
	})
}

// Status is a point-in-time view of the node.
type Status struct {
	Model             string `json:"model"`
	Manufacturer      string `json:"manufacturer"`
	Commissioning     string `json:"commissioning"`
	Joined            bool   `json:"joined"`
	ValveOpen         bool   `json:"valve_open"`
	BatteryPercentage uint8  `json:"battery_percentage"`
	Channel           uint8  `json:"channel,omitempty"`
	PanID             string `json:"pan_id,omitempty"`
	ExtPanID          string `json:"ext_pan_id,omitempty"`
	ShortAddr         string `json:"short_addr,omitempty"`
}

// Status returns the current node status. Safe for concurrent use.
func (n *Node) Status() Status {
	st := n.machine.State()
	s := Status{
		Model:             ValveIdentity.ModelID,
		Manufacturer:      ValveIdentity.Manufacturer,
		Commissioning:     st.String(),
		Joined:            st == commissioning.StateJoined,
		ValveOpen:         n.valve.Open(),
		BatteryPercentage: n.battery.Load(),
	}
	if s.Joined {
		net := n.stack.NetworkInfo()
		s.Channel = net.Channel
		s.PanID = fmt.Sprintf("0x%04X", net.PanID)
		s.ExtPanID = ncp.FormatExtPanID(net.ExtPanID)
		s.ShortAddr = fmt.Sprintf("0x%04X", net.ShortAddr)
	}
	return s
}

// Commissioned reports whether st records a previously joined network.
func Commissioned(st store.Store) bool {
	ns, err := st.GetNetworkState()
	return err == nil && ns.Joined
}
