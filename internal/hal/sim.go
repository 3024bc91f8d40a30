package hal

import (
	"fmt"
	"sync"
)

// Sim is an in-memory board. Output levels and ADC samples are observable and
// settable, which makes it the backend for bench runs and tests.
type Sim struct {
	mu      sync.Mutex
	modes   map[Pin]Mode
	levels  map[Pin]Level
	samples map[Channel]int
	width   uint8
	atten   map[Channel]Attenuation
	writes  []PinWrite
}

// PinWrite records one SetLevel call.
type PinWrite struct {
	Pin   Pin
	Level Level
}

// NewSim creates a simulated board with a 12-bit ADC whose channels read 0.
func NewSim() *Sim {
	return &Sim{
		modes:   make(map[Pin]Mode),
		levels:  make(map[Pin]Level),
		samples: make(map[Channel]int),
		atten:   make(map[Channel]Attenuation),
		width:   12,
	}
}

func (s *Sim) SetDirection(pin Pin, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[pin] = mode
	return nil
}

func (s *Sim) SetLevel(pin Pin, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modes[pin] != ModeOutput {
		return fmt.Errorf("hal sim: pin %d is not an output", pin)
	}
	s.levels[pin] = level
	s.writes = append(s.writes, PinWrite{Pin: pin, Level: level})
	return nil
}

// Level returns the current output level of pin.
func (s *Sim) Level(pin Pin) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Writes returns a copy of every SetLevel call so far, in order.
func (s *Sim) Writes() []PinWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PinWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *Sim) ConfigWidth(bits uint8) error {
	if bits < 9 || bits > 12 {
		return fmt.Errorf("hal sim: width %d: %w", bits, ErrUnsupported)
	}
	s.mu.Lock()
	s.width = bits
	s.mu.Unlock()
	return nil
}

func (s *Sim) ConfigChannelAttenuation(ch Channel, atten Attenuation) error {
	s.mu.Lock()
	s.atten[ch] = atten
	s.mu.Unlock()
	return nil
}

// SetSample sets the raw value the next RawSample on ch returns.
func (s *Sim) SetSample(ch Channel, raw int) {
	s.mu.Lock()
	s.samples[ch] = raw
	s.mu.Unlock()
}

func (s *Sim) RawSample(ch Channel) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 1<<s.width - 1
	raw := s.samples[ch]
	if raw > max {
		raw = max
	}
	if raw < 0 {
		raw = 0
	}
	return raw, nil
}

func (s *Sim) Close() error { return nil }
