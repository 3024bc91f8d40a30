// Package hal defines the GPIO and ADC primitives the valve node needs from
// the board. Backends: Raspberry Pi (go-rpio GPIO + MCP3208 over SPI) and an
// in-memory simulator.
package hal

import "errors"

// ErrUnsupported is returned when a backend cannot honor a configuration.
var ErrUnsupported = errors.New("hal: unsupported")

// Pin is a GPIO number in the backend's numbering (BCM on the Pi).
type Pin uint8

// Mode is a pin direction.
type Mode uint8

const (
	ModeInput Mode = iota
	ModeOutput
)

// Level is a digital output level.
type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Channel is an ADC input channel.
type Channel uint8

// Attenuation is the ADC input attenuation in dB.
type Attenuation uint8

const (
	Atten0dB Attenuation = iota
	Atten2_5dB
	Atten6dB
	Atten11dB
)

// GPIO programs digital pins.
type GPIO interface {
	SetDirection(pin Pin, mode Mode) error
	SetLevel(pin Pin, level Level) error
}

// ADC samples analog channels.
type ADC interface {
	// ConfigWidth sets the sample resolution in bits.
	ConfigWidth(bits uint8) error
	ConfigChannelAttenuation(ch Channel, atten Attenuation) error
	// RawSample returns one unfiltered conversion result.
	RawSample(ch Channel) (int, error)
}

// Board bundles the primitives of one backend.
type Board interface {
	GPIO
	ADC
	Close() error
}
