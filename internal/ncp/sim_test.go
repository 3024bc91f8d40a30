package ncp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runSim(t *testing.T, script SimConfig) (*SimNCP, chan Signal) {
	t.Helper()
	sim := NewSimNCP(script, discardLogger())
	sigs := make(chan Signal, 16)
	sim.OnSignal(func(s Signal) { sigs <- s })
	if err := sim.Init(context.Background(), Config{Role: RoleEndDevice, EDTimeout: EDTimeout64Min}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sim.Close()
	})
	go sim.Run(ctx)
	return sim, sigs
}

func nextSignal(t *testing.T, sigs chan Signal) Signal {
	t.Helper()
	select {
	case s := <-sigs:
		return s
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
	return Signal{}
}

func TestSimFirstStartAndSteering(t *testing.T) {
	net := NetworkInfo{Channel: 15, PanID: 0x1A62, ExtPanID: [8]byte{0xDD, 0xDD}, ShortAddr: 0x4F21}
	sim, sigs := runSim(t, SimConfig{SteeringFailures: 2, Network: net})

	if err := sim.Start(false); err != nil {
		t.Fatal(err)
	}
	if s := nextSignal(t, sigs); s.Type != SignalSkipStartup || !s.OK() {
		t.Fatalf("first signal %+v", s)
	}

	if err := sim.StartCommissioning(ModeInitialization); err != nil {
		t.Fatal(err)
	}
	if s := nextSignal(t, sigs); s.Type != SignalDeviceFirstStart || !s.OK() {
		t.Fatalf("init signal %+v", s)
	}

	for i := 0; i < 2; i++ {
		if err := sim.StartCommissioning(ModeNetworkSteering); err != nil {
			t.Fatal(err)
		}
		s := nextSignal(t, sigs)
		if s.Type != SignalSteering || !errors.Is(s.Err, ErrNoNetwork) {
			t.Fatalf("attempt %d: signal %+v, want steering failure", i, s)
		}
	}
	if sim.PanID() != 0 {
		t.Error("PAN ID reported before joining")
	}

	if err := sim.StartCommissioning(ModeNetworkSteering); err != nil {
		t.Fatal(err)
	}
	if s := nextSignal(t, sigs); s.Type != SignalSteering || !s.OK() {
		t.Fatalf("signal %+v, want steering success", s)
	}
	if sim.NetworkInfo() != net || sim.PanID() != 0x1A62 || sim.ExtendedPanID() != net.ExtPanID {
		t.Errorf("network %+v", sim.NetworkInfo())
	}

	want := []Mode{ModeInitialization, ModeNetworkSteering, ModeNetworkSteering, ModeNetworkSteering}
	got := sim.Requests()
	if len(got) != len(want) {
		t.Fatalf("requests %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("requests %v, want %v", got, want)
			break
		}
	}
}

func TestSimReboot(t *testing.T) {
	net := NetworkInfo{Channel: 20, PanID: 0xBEEF}
	sim, sigs := runSim(t, SimConfig{Commissioned: true, Network: net})
	if err := sim.Start(true); err != nil {
		t.Fatal(err)
	}
	if s := nextSignal(t, sigs); s.Type != SignalDeviceReboot || !s.OK() {
		t.Fatalf("signal %+v, want reboot", s)
	}
	if sim.PanID() != 0xBEEF {
		t.Errorf("PAN ID 0x%04X after reboot", sim.PanID())
	}
}

func TestSimStartupFailure(t *testing.T) {
	boom := errors.New("radio fault")
	sim, sigs := runSim(t, SimConfig{StartupErr: boom})
	if err := sim.Start(true); err != nil {
		t.Fatal(err)
	}
	s := nextSignal(t, sigs)
	if s.Type != SignalDeviceFirstStart || !errors.Is(s.Err, boom) {
		t.Fatalf("signal %+v", s)
	}
}

func TestSimGuards(t *testing.T) {
	sim := NewSimNCP(SimConfig{}, discardLogger())
	if err := sim.Start(false); err == nil {
		t.Error("expected start before init to fail")
	}
	if err := sim.StartCommissioning(ModeInitialization); err == nil {
		t.Error("expected commissioning before start to fail")
	}
	if err := sim.Init(context.Background(), Config{}); err != nil {
		t.Fatal(err)
	}
	if err := sim.Init(context.Background(), Config{}); err == nil {
		t.Error("expected second init to fail")
	}
	if err := sim.Start(false); err != nil {
		t.Fatal(err)
	}
	if err := sim.Start(false); err == nil {
		t.Error("expected second start to fail")
	}
}

func TestSimFramesAndAlarms(t *testing.T) {
	sim, _ := runSim(t, SimConfig{})
	if err := sim.RegisterEndpoint(SimpleDescriptor{Endpoint: 10, ProfileID: 0x0104}); err != nil {
		t.Fatal(err)
	}
	if err := sim.RegisterEndpoint(SimpleDescriptor{Endpoint: 10}); err == nil {
		t.Error("expected duplicate endpoint error")
	}

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	done := make(chan struct{})
	sim.OnFrame(func(f Frame) []byte {
		record("frame")
		return []byte{0x18, f.Payload[1], 0x0B, 0x01, 0x00}
	})
	sim.InjectFrame(Frame{SrcAddr: 0x0000, SrcEP: 1, DstEP: 10, ClusterID: 0x0006, Payload: []byte{0x01, 9, 0x01}})
	sim.InjectFrame(Frame{SrcEP: 1, DstEP: 4, ClusterID: 0x0006, Payload: []byte{0x01, 8, 0x01}})
	sim.ScheduleAlarm(20*time.Millisecond, func() {
		record("alarm")
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "frame" || order[1] != "alarm" {
		t.Errorf("callback order %v", order)
	}
	replies := sim.Replies()
	if len(replies) != 1 {
		t.Fatalf("replies %+v", replies)
	}
	r := replies[0]
	if r.DstEP != 1 || r.SrcEP != 10 || r.ClusterID != 0x0006 || !bytes.Equal(r.Payload, []byte{0x18, 9, 0x0B, 0x01, 0x00}) {
		t.Errorf("reply %+v", r)
	}
}
