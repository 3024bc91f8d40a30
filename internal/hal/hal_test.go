package hal

import (
	"errors"
	"testing"
)

func TestSimSetLevelRequiresOutput(t *testing.T) {
	s := NewSim()
	if err := s.SetLevel(4, High); err == nil {
		t.Fatal("expected error writing a pin that is not an output")
	}
	if err := s.SetDirection(4, ModeOutput); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLevel(4, High); err != nil {
		t.Fatal(err)
	}
	if s.Level(4) != High {
		t.Errorf("level = %v, want high", s.Level(4))
	}
	writes := s.Writes()
	if len(writes) != 1 || writes[0] != (PinWrite{Pin: 4, Level: High}) {
		t.Errorf("writes = %v", writes)
	}
}

func TestSimSampleClampedToWidth(t *testing.T) {
	s := NewSim()
	s.SetSample(6, 9000)
	raw, err := s.RawSample(6)
	if err != nil {
		t.Fatal(err)
	}
	if raw != 4095 {
		t.Errorf("raw = %d, want 4095", raw)
	}

	if err := s.ConfigWidth(10); err != nil {
		t.Fatal(err)
	}
	raw, _ = s.RawSample(6)
	if raw != 1023 {
		t.Errorf("raw at 10 bits = %d, want 1023", raw)
	}

	if err := s.ConfigWidth(16); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ConfigWidth(16) err = %v, want ErrUnsupported", err)
	}
}

func TestMCP3208Framing(t *testing.T) {
	tests := []struct {
		ch   Channel
		want []byte
	}{
		{0, []byte{0x06, 0x00, 0x00}},
		{3, []byte{0x06, 0xC0, 0x00}},
		{6, []byte{0x07, 0x80, 0x00}},
		{7, []byte{0x07, 0xC0, 0x00}},
	}
	for _, tt := range tests {
		got := mcp3208Request(tt.ch)
		if len(got) != 3 || got[0] != tt.want[0] || got[1] != tt.want[1] || got[2] != tt.want[2] {
			t.Errorf("request(%d) = %X, want %X", tt.ch, got, tt.want)
		}
	}

	// Upper nibble of the second byte is garbage clocked in before the null bit.
	if got := mcp3208Decode([]byte{0xFF, 0xEA, 0xBC}); got != 0xABC {
		t.Errorf("decode = 0x%X, want 0xABC", got)
	}
	if got := mcp3208Decode([]byte{0x00}); got != 0 {
		t.Errorf("decode short = %d, want 0", got)
	}
}
