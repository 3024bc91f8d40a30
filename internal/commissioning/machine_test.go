package commissioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-valve/internal/ncp"
)

var errRadio = errors.New("radio failure")

func TestTransitionTable(t *testing.T) {
	start := func(mode ncp.Mode) []Effect {
		return []Effect{{Kind: EffectStartCommissioning, Mode: mode}}
	}
	ignored := []Effect{{Kind: EffectReportIgnored}}
	unhandled := []Effect{{Kind: EffectReportUnhandled}}

	tests := []struct {
		name string
		cur  State
		ev   Event
		next State
		eff  []Effect
	}{
		{"skip startup from uninitialized", StateUninitialized, Event{Type: ncp.SignalSkipStartup}, StateStackReady, start(ncp.ModeInitialization)},
		{"skip startup while steering", StateSteering, Event{Type: ncp.SignalSkipStartup}, StateStackReady, start(ncp.ModeInitialization)},
		{"skip startup once joined", StateJoined, Event{Type: ncp.SignalSkipStartup}, StateJoined, ignored},

		{"first start ok", StateStackReady, Event{Type: ncp.SignalDeviceFirstStart}, StateSteering, start(ncp.ModeNetworkSteering)},
		{"reboot ok", StateStackReady, Event{Type: ncp.SignalDeviceReboot}, StateSteering, start(ncp.ModeNetworkSteering)},
		{"reboot ok from joined", StateJoined, Event{Type: ncp.SignalDeviceReboot}, StateSteering, start(ncp.ModeNetworkSteering)},
		{"first start failed", StateStackReady, Event{Type: ncp.SignalDeviceFirstStart, Err: errRadio}, StateUninitialized,
			[]Effect{{Kind: EffectReportStartupFailed, Err: errRadio}}},
		{"reboot failed", StateStackReady, Event{Type: ncp.SignalDeviceReboot, Err: errRadio}, StateUninitialized,
			[]Effect{{Kind: EffectReportStartupFailed, Err: errRadio}}},

		{"steering ok", StateSteering, Event{Type: ncp.SignalSteering}, StateJoined, []Effect{{Kind: EffectReportJoined}}},
		{"steering failed", StateSteering, Event{Type: ncp.SignalSteering, Err: errRadio}, StateSteering,
			[]Effect{
				{Kind: EffectReportSteeringFailed, Err: errRadio},
				{Kind: EffectScheduleRetry, Mode: ncp.ModeNetworkSteering, Delay: RetryDelay},
			}},
		{"steering once joined", StateJoined, Event{Type: ncp.SignalSteering}, StateJoined, ignored},
		{"steering failure once joined", StateJoined, Event{Type: ncp.SignalSteering, Err: errRadio}, StateJoined, ignored},

		{"leave is unhandled", StateJoined, Event{Type: ncp.SignalLeave}, StateJoined, unhandled},
		{"can sleep is unhandled", StateSteering, Event{Type: ncp.SignalCanSleep}, StateSteering, unhandled},
		{"unknown signal", StateStackReady, Event{Type: ncp.SignalType(0x99)}, StateStackReady, unhandled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Transition(tt.cur, tt.ev)
			assert.Equal(t, tt.next, res.Next)
			assert.Equal(t, tt.eff, res.Effects)
		})
	}
}

func TestRetryDelayIsOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "JOINED", StateJoined.String())
	assert.Equal(t, "STEERING_FAILED", StateSteeringFailed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

// fakeStack records what the machine asks of the stack. Alarms are kept
// until fired by the test.
type fakeStack struct {
	ncp.NCP
	requests []ncp.Mode
	alarms   []alarm
	startErr error
	net      ncp.NetworkInfo
}

type alarm struct {
	delay time.Duration
	fn    func()
}

func (f *fakeStack) StartCommissioning(mode ncp.Mode) error {
	f.requests = append(f.requests, mode)
	return f.startErr
}

func (f *fakeStack) ScheduleAlarm(delay time.Duration, fn func()) {
	f.alarms = append(f.alarms, alarm{delay, fn})
}

func (f *fakeStack) ExtendedPanID() [8]byte       { return f.net.ExtPanID }
func (f *fakeStack) PanID() uint16                { return f.net.PanID }
func (f *fakeStack) NetworkInfo() ncp.NetworkInfo { return f.net }

func newTestMachine(stack ncp.NCP) (*Machine, *[]Change) {
	m := NewMachine(stack, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })
	return m, &changes
}

func TestMachineJoinSequence(t *testing.T) {
	stack := &fakeStack{net: ncp.NetworkInfo{Channel: 15, PanID: 0x1A62, ExtPanID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, ShortAddr: 0x4F21}}
	m, changes := newTestMachine(stack)

	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	assert.Equal(t, StateStackReady, m.State())
	m.Handle(ncp.Signal{Type: ncp.SignalDeviceFirstStart})
	assert.Equal(t, StateSteering, m.State())
	m.Handle(ncp.Signal{Type: ncp.SignalSteering})
	assert.Equal(t, StateJoined, m.State())

	assert.Equal(t, []ncp.Mode{ncp.ModeInitialization, ncp.ModeNetworkSteering}, stack.requests)
	assert.Empty(t, stack.alarms)

	require.Len(t, *changes, 3)
	last := (*changes)[2]
	assert.Equal(t, StateSteering, last.From)
	assert.Equal(t, StateJoined, last.To)
	assert.Equal(t, stack.net, last.Network)
}

func TestMachineSteeringRetry(t *testing.T) {
	stack := &fakeStack{}
	m, changes := newTestMachine(stack)

	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	m.Handle(ncp.Signal{Type: ncp.SignalDeviceReboot})
	*changes = nil

	for i := 0; i < 3; i++ {
		m.Handle(ncp.Signal{Type: ncp.SignalSteering, Err: ncp.ErrNoNetwork})
		assert.Equal(t, StateSteering, m.State(), "machine rests in steering")
		require.Len(t, stack.alarms, i+1)
		assert.Equal(t, RetryDelay, stack.alarms[i].delay)

		// The retry is only requested when the alarm fires.
		before := len(stack.requests)
		stack.alarms[i].fn()
		require.Len(t, stack.requests, before+1)
		assert.Equal(t, ncp.ModeNetworkSteering, stack.requests[before])
	}

	require.Len(t, *changes, 3)
	for _, c := range *changes {
		assert.Equal(t, StateSteeringFailed, c.To)
		assert.ErrorIs(t, c.Signal.Err, ncp.ErrNoNetwork)
	}
}

func TestMachineStartupFailureDoesNotRetry(t *testing.T) {
	stack := &fakeStack{}
	m, _ := newTestMachine(stack)

	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	m.Handle(ncp.Signal{Type: ncp.SignalDeviceFirstStart, Err: errRadio})

	assert.Equal(t, StateUninitialized, m.State())
	assert.Equal(t, []ncp.Mode{ncp.ModeInitialization}, stack.requests)
	assert.Empty(t, stack.alarms)
}

func TestMachineJoinedIsTerminal(t *testing.T) {
	stack := &fakeStack{}
	m, changes := newTestMachine(stack)
	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	m.Handle(ncp.Signal{Type: ncp.SignalDeviceFirstStart})
	m.Handle(ncp.Signal{Type: ncp.SignalSteering})
	require.Equal(t, StateJoined, m.State())
	n := len(*changes)
	reqs := len(stack.requests)

	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	m.Handle(ncp.Signal{Type: ncp.SignalSteering, Err: errRadio})
	m.Handle(ncp.Signal{Type: ncp.SignalLeave})

	assert.Equal(t, StateJoined, m.State())
	assert.Len(t, *changes, n)
	assert.Len(t, stack.requests, reqs)
	assert.Empty(t, stack.alarms)
}

func TestMachineStartErrorIsLogged(t *testing.T) {
	stack := &fakeStack{startErr: errors.New("busy")}
	m, _ := newTestMachine(stack)
	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	// The request failed but the transition still happened.
	assert.Equal(t, StateStackReady, m.State())
}

func TestMachineRejectedSteeringIsRescheduled(t *testing.T) {
	stack := &fakeStack{}
	m, _ := newTestMachine(stack)
	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})

	stack.startErr = errors.New("busy")
	m.Handle(ncp.Signal{Type: ncp.SignalDeviceFirstStart})
	require.Equal(t, StateSteering, m.State())
	require.Len(t, stack.alarms, 1, "rejected steering request must be rescheduled")
	assert.Equal(t, RetryDelay, stack.alarms[0].delay)

	// Still rejected: the chain keeps going.
	stack.alarms[0].fn()
	require.Len(t, stack.alarms, 2)

	stack.startErr = nil
	stack.alarms[1].fn()
	assert.Len(t, stack.alarms, 2, "accepted request schedules nothing")
	assert.Equal(t, []ncp.Mode{
		ncp.ModeInitialization,
		ncp.ModeNetworkSteering,
		ncp.ModeNetworkSteering,
		ncp.ModeNetworkSteering,
	}, stack.requests)
	assert.Equal(t, StateSteering, m.State())
}

func TestMachineRejectedInitializationIsNotRescheduled(t *testing.T) {
	stack := &fakeStack{startErr: errors.New("busy")}
	m, _ := newTestMachine(stack)
	m.Handle(ncp.Signal{Type: ncp.SignalSkipStartup})
	assert.Empty(t, stack.alarms)
}

func TestMachineWithSimulatedStack(t *testing.T) {
	net := ncp.NetworkInfo{Channel: 11, PanID: 0xABCD, ShortAddr: 0x0101}
	sim := ncp.NewSimNCP(ncp.SimConfig{SteeringFailures: 1, Network: net}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, sim.Init(context.Background(), ncp.Config{Role: ncp.RoleEndDevice}))

	m := NewMachine(sim, slog.New(slog.NewTextHandler(io.Discard, nil)))
	joined := make(chan Change, 1)
	var failures int
	m.OnChange(func(c Change) {
		switch c.To {
		case StateSteeringFailed:
			failures++
		case StateJoined:
			joined <- c
		}
	})
	sim.OnSignal(m.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)
	require.NoError(t, sim.Start(false))

	select {
	case c := <-joined:
		assert.Equal(t, uint16(0xABCD), c.Network.PanID)
	case <-time.After(5 * time.Second):
		t.Fatalf("not joined, state %s", m.State())
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, []ncp.Mode{ncp.ModeInitialization, ncp.ModeNetworkSteering, ncp.ModeNetworkSteering}, sim.Requests())
}
