// Package ncp is the boundary to the Zigbee network stack running on a
// network co-processor. The application joins as an end device; the stack
// reports progress through signals and hands inbound ZCL frames for local
// endpoints to a frame handler. Signals, frames and alarms are delivered one
// at a time on the goroutine running Run.
//
// Backends: nRF52840 (ZBOSS NCP over USB CDC ACM) and an in-process simulator.
package ncp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NCP is the abstract interface for the network stack.
type NCP interface {
	// Init configures the stack. It must be called once before Start.
	Init(ctx context.Context, cfg Config) error
	// RegisterEndpoint declares a local application endpoint. Endpoints are
	// handed to the stack during the initialization commissioning step.
	RegisterEndpoint(desc SimpleDescriptor) error
	// Start starts the stack. With autostart false the stack only reports
	// SignalSkipStartup and waits for StartCommissioning(ModeInitialization).
	Start(autostart bool) error
	// StartCommissioning requests a commissioning step. It returns at once;
	// the outcome arrives as a signal.
	StartCommissioning(mode Mode) error
	// ScheduleAlarm runs fn on the stack loop once after delay.
	ScheduleAlarm(delay time.Duration, fn func())

	ExtendedPanID() [8]byte
	PanID() uint16
	NetworkInfo() NetworkInfo

	OnSignal(handler func(Signal))
	// OnFrame sets the handler for inbound ZCL frames addressed to a local
	// endpoint. A non-nil return value is sent back to the originator.
	OnFrame(handler func(Frame) []byte)

	// Run processes signals, frames and alarms until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Role is the Zigbee device role (ZBOSS DeviceRole enum).
type Role uint8

const (
	RoleCoordinator Role = 0
	RoleRouter      Role = 1
	RoleEndDevice   Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleRouter:
		return "router"
	case RoleEndDevice:
		return "end_device"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// AllChannelsMask selects 2.4 GHz channels 11-26.
const AllChannelsMask uint32 = 0x07FFF800

// EDTimeout is the end device aging timeout as encoded by the stack.
type EDTimeout uint8

const (
	EDTimeout10s EDTimeout = iota
	EDTimeout2Min
	EDTimeout4Min
	EDTimeout8Min
	EDTimeout16Min
	EDTimeout32Min
	EDTimeout64Min
	EDTimeout128Min
	EDTimeout256Min
	EDTimeout512Min
	EDTimeout1024Min
	EDTimeout2048Min
	EDTimeout4096Min
	EDTimeout8192Min
	EDTimeout16384Min
)

// Duration returns the timeout as a time.Duration.
func (t EDTimeout) Duration() time.Duration {
	if t == EDTimeout10s {
		return 10 * time.Second
	}
	return time.Duration(1<<uint(t)) * time.Minute
}

// EDTimeoutFromDuration maps d onto the stack's encoding. Only the exact
// values the stack supports are accepted.
func EDTimeoutFromDuration(d time.Duration) (EDTimeout, error) {
	for t := EDTimeout10s; t <= EDTimeout16384Min; t++ {
		if t.Duration() == d {
			return t, nil
		}
	}
	return 0, fmt.Errorf("ncp: unsupported end device timeout %s", d)
}

// Config holds the stack parameters fixed at boot.
type Config struct {
	Role              Role
	InstallCodePolicy bool
	EDTimeout         EDTimeout
	KeepAlive         time.Duration
	ChannelMask       uint32
}

// Mode is a commissioning step.
type Mode uint8

const (
	ModeInitialization Mode = iota
	ModeNetworkSteering
)

func (m Mode) String() string {
	switch m {
	case ModeInitialization:
		return "initialization"
	case ModeNetworkSteering:
		return "network_steering"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// SignalType identifies an application signal. Values follow the ZBOSS
// application signal numbering.
type SignalType uint16

const (
	SignalDefaultStart     SignalType = 0
	SignalSkipStartup      SignalType = 1
	SignalDeviceAnnounce   SignalType = 2
	SignalLeave            SignalType = 3
	SignalError            SignalType = 4
	SignalDeviceFirstStart SignalType = 5
	SignalDeviceReboot     SignalType = 6
	SignalSteering         SignalType = 10
	SignalFormation        SignalType = 11
	SignalCanSleep         SignalType = 22
)

func (t SignalType) String() string {
	switch t {
	case SignalDefaultStart:
		return "default_start"
	case SignalSkipStartup:
		return "skip_startup"
	case SignalDeviceAnnounce:
		return "device_announce"
	case SignalLeave:
		return "leave"
	case SignalError:
		return "error"
	case SignalDeviceFirstStart:
		return "device_first_start"
	case SignalDeviceReboot:
		return "device_reboot"
	case SignalSteering:
		return "steering"
	case SignalFormation:
		return "formation"
	case SignalCanSleep:
		return "can_sleep"
	}
	return fmt.Sprintf("signal(%d)", uint16(t))
}

// Signal is one asynchronous notification from the stack. Err is nil when
// the step it reports succeeded.
type Signal struct {
	Type SignalType
	Err  error
}

func (s Signal) OK() bool { return s.Err == nil }

// Errors reported in signals.
var (
	ErrNoNetwork = errors.New("ncp: no joinable network found")
	ErrJoin      = errors.New("ncp: join refused")
	ErrClosed    = errors.New("ncp closed")
)

// NetworkInfo describes the joined network.
type NetworkInfo struct {
	Channel   uint8
	PanID     uint16
	ExtPanID  [8]byte
	ShortAddr uint16
}

// SimpleDescriptor describes a local endpoint.
type SimpleDescriptor struct {
	Endpoint      uint8
	ProfileID     uint16
	DeviceID      uint16
	DeviceVersion uint8
	InClusters    []uint16
	OutClusters   []uint16
}

// Frame is an inbound APS data frame for a local endpoint.
type Frame struct {
	SrcAddr   uint16
	SrcEP     uint8
	DstEP     uint8
	ClusterID uint16
	ProfileID uint16
	LQI       uint8
	RSSI      int8
	Payload   []byte // ZCL frame
}

// FormatExtPanID renders an extended PAN ID the way it is usually printed:
// most significant byte first.
func FormatExtPanID(id [8]byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X",
		id[7], id[6], id[5], id[4], id[3], id[2], id[1], id[0])
}
