package ncp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SimConfig scripts the behaviour of a SimNCP.
type SimConfig struct {
	// Commissioned makes initialization report a reboot instead of a first
	// start, as if the device had joined in a previous session.
	Commissioned bool
	// StartupErr, if set, fails the initialization step.
	StartupErr error
	// SteeringFailures is the number of steering attempts that fail before
	// one succeeds. Negative means steering never succeeds.
	SteeringFailures int
	// Network is reported once steering succeeds or a reboot resumes.
	Network NetworkInfo
	// Latency delays every commissioning outcome.
	Latency time.Duration
}

// Reply is a ZCL response the simulated stack would have transmitted.
type Reply struct {
	DstAddr   uint16
	DstEP     uint8
	SrcEP     uint8
	ClusterID uint16
	Payload   []byte
}

// SimNCP is an in-process network stack. It drives the same signal sequence
// as real hardware from a script, for tests and bench runs without a radio.
type SimNCP struct {
	logger *slog.Logger
	loop   *Loop

	mu        sync.Mutex
	script    SimConfig
	cfg       Config
	inited    bool
	started   bool
	endpoints map[uint8]SimpleDescriptor
	network   NetworkInfo
	requests  []Mode
	replies   []Reply
	onSignal  func(Signal)
	onFrame   func(Frame) []byte
}

// NewSimNCP creates a simulated stack following script.
func NewSimNCP(script SimConfig, logger *slog.Logger) *SimNCP {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimNCP{
		logger:    logger,
		loop:      NewLoop(64, logger),
		script:    script,
		endpoints: make(map[uint8]SimpleDescriptor),
	}
}

func (s *SimNCP) Init(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return fmt.Errorf("sim ncp: already initialized")
	}
	s.cfg = cfg
	s.inited = true
	s.logger.Info("sim ncp configured", "role", cfg.Role, "ed_timeout", cfg.EDTimeout.Duration(), "keep_alive", cfg.KeepAlive)
	return nil
}

// Config returns the configuration passed to Init.
func (s *SimNCP) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *SimNCP) RegisterEndpoint(desc SimpleDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.endpoints[desc.Endpoint]; dup {
		return fmt.Errorf("sim ncp: endpoint %d already registered", desc.Endpoint)
	}
	s.endpoints[desc.Endpoint] = desc
	return nil
}

func (s *SimNCP) Start(autostart bool) error {
	s.mu.Lock()
	if !s.inited {
		s.mu.Unlock()
		return fmt.Errorf("sim ncp: start before init")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("sim ncp: already started")
	}
	s.started = true
	s.mu.Unlock()

	if autostart {
		return s.StartCommissioning(ModeInitialization)
	}
	s.InjectSignal(Signal{Type: SignalSkipStartup})
	return nil
}

func (s *SimNCP) StartCommissioning(mode Mode) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("sim ncp: commissioning before start")
	}
	s.requests = append(s.requests, mode)

	var sig Signal
	switch mode {
	case ModeInitialization:
		sig.Type = SignalDeviceFirstStart
		if s.script.Commissioned {
			sig.Type = SignalDeviceReboot
		}
		sig.Err = s.script.StartupErr
		if sig.Err == nil && s.script.Commissioned {
			s.network = s.script.Network
		}
	case ModeNetworkSteering:
		sig.Type = SignalSteering
		switch {
		case s.script.SteeringFailures < 0:
			sig.Err = ErrNoNetwork
		case s.script.SteeringFailures > 0:
			s.script.SteeringFailures--
			sig.Err = ErrNoNetwork
		default:
			s.network = s.script.Network
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("sim ncp: unknown commissioning mode %s", mode)
	}
	latency := s.script.Latency
	s.mu.Unlock()

	s.loop.After(latency, func() { s.dispatchSignal(sig) })
	return nil
}

// Requests returns the commissioning steps requested so far.
func (s *SimNCP) Requests() []Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mode(nil), s.requests...)
}

func (s *SimNCP) ScheduleAlarm(delay time.Duration, fn func()) {
	s.loop.After(delay, fn)
}

func (s *SimNCP) ExtendedPanID() [8]byte { return s.NetworkInfo().ExtPanID }
func (s *SimNCP) PanID() uint16          { return s.NetworkInfo().PanID }

func (s *SimNCP) NetworkInfo() NetworkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

func (s *SimNCP) OnSignal(handler func(Signal)) {
	s.mu.Lock()
	s.onSignal = handler
	s.mu.Unlock()
}

func (s *SimNCP) OnFrame(handler func(Frame) []byte) {
	s.mu.Lock()
	s.onFrame = handler
	s.mu.Unlock()
}

// InjectSignal delivers sig on the loop as if raised by the stack.
func (s *SimNCP) InjectSignal(sig Signal) {
	s.loop.PostAsync(func() { s.dispatchSignal(sig) })
}

// InjectFrame delivers f on the loop as if received over the air. Frames for
// endpoints that were never registered are dropped.
func (s *SimNCP) InjectFrame(f Frame) {
	s.loop.PostAsync(func() {
		s.mu.Lock()
		_, ok := s.endpoints[f.DstEP]
		h := s.onFrame
		s.mu.Unlock()
		if !ok || h == nil {
			return
		}
		rsp := h(f)
		if rsp == nil {
			return
		}
		s.mu.Lock()
		s.replies = append(s.replies, Reply{
			DstAddr:   f.SrcAddr,
			DstEP:     f.SrcEP,
			SrcEP:     f.DstEP,
			ClusterID: f.ClusterID,
			Payload:   rsp,
		})
		s.mu.Unlock()
	})
}

// Replies returns the responses sent so far.
func (s *SimNCP) Replies() []Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reply(nil), s.replies...)
}

func (s *SimNCP) dispatchSignal(sig Signal) {
	s.mu.Lock()
	h := s.onSignal
	s.mu.Unlock()
	if h != nil {
		h(sig)
	}
}

func (s *SimNCP) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

func (s *SimNCP) Close() error {
	s.loop.Stop()
	return nil
}

var _ NCP = (*SimNCP)(nil)
