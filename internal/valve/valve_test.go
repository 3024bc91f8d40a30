package valve

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"zigbee-valve/internal/hal"
)

const (
	pinOn  hal.Pin = 4
	pinOff hal.Pin = 5
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// watchGPIO wraps a Sim and checks the both-high invariant after every write.
type watchGPIO struct {
	*hal.Sim
	t       *testing.T
	failPin hal.Pin
	fail    bool
}

func (w *watchGPIO) SetLevel(pin hal.Pin, level hal.Level) error {
	if w.fail && pin == w.failPin {
		return errors.New("stuck")
	}
	if err := w.Sim.SetLevel(pin, level); err != nil {
		return err
	}
	if w.Sim.Level(pinOn) == hal.High && w.Sim.Level(pinOff) == hal.High {
		w.t.Fatalf("both actuator lines high after writing pin %d", pin)
	}
	return nil
}

func newDriver(t *testing.T) (*Driver, *watchGPIO) {
	t.Helper()
	g := &watchGPIO{Sim: hal.NewSim(), t: t}
	d, err := New(g, Pins{On: pinOn, Off: pinOff}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return d, g
}

func TestNewDrivesClosed(t *testing.T) {
	d, g := newDriver(t)
	if d.Open() {
		t.Error("driver reports open after init")
	}
	if g.Level(pinOn) != hal.Low || g.Level(pinOff) != hal.High {
		t.Errorf("init levels on=%v off=%v, want low/high", g.Level(pinOn), g.Level(pinOff))
	}
	writes := g.Writes()
	if len(writes) != 2 || writes[0].Pin != pinOn || writes[0].Level != hal.Low {
		t.Errorf("init writes = %v, want on line released first", writes)
	}
}

func TestNewRejectsSharedPin(t *testing.T) {
	if _, err := New(hal.NewSim(), Pins{On: 4, Off: 4}, quietLogger()); err == nil {
		t.Fatal("expected error for identical pins")
	}
}

func TestSetValve(t *testing.T) {
	tests := []struct {
		name    string
		open    bool
		wantOn  hal.Level
		wantOff hal.Level
	}{
		{"open", true, hal.High, hal.Low},
		{"close", false, hal.Low, hal.High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, g := newDriver(t)
			d.SetValve(tt.open)
			if d.Open() != tt.open {
				t.Errorf("Open() = %v, want %v", d.Open(), tt.open)
			}
			if g.Level(pinOn) != tt.wantOn || g.Level(pinOff) != tt.wantOff {
				t.Errorf("levels on=%v off=%v, want %v/%v", g.Level(pinOn), g.Level(pinOff), tt.wantOn, tt.wantOff)
			}
		})
	}
}

func TestSetValveReleaseBeforeAssert(t *testing.T) {
	d, g := newDriver(t)
	d.SetValve(true)
	w := g.Writes()[2:]
	if len(w) != 2 {
		t.Fatalf("writes = %v", w)
	}
	if w[0] != (hal.PinWrite{Pin: pinOff, Level: hal.Low}) || w[1] != (hal.PinWrite{Pin: pinOn, Level: hal.High}) {
		t.Errorf("open sequence = %v, want off-low then on-high", w)
	}
}

func TestSetValveExactlyOneLineHigh(t *testing.T) {
	d, g := newDriver(t)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		open := rng.Intn(2) == 1
		d.SetValve(open)
		on, off := g.Level(pinOn) == hal.High, g.Level(pinOff) == hal.High
		if on == off {
			t.Fatalf("step %d: on=%v off=%v", i, on, off)
		}
		if on != open {
			t.Fatalf("step %d: requested open=%v, on line %v", i, open, on)
		}
	}
}

func TestSetValveReleaseFailureLeavesState(t *testing.T) {
	d, g := newDriver(t)
	g.fail, g.failPin = true, pinOff
	d.SetValve(true)
	if d.Open() {
		t.Error("driver reports open although the off line could not be released")
	}
	if g.Level(pinOn) != hal.Low {
		t.Error("on line asserted while off line is stuck")
	}
}
