package hal

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// MCP3208 is a 12-bit, 8-channel SPI ADC. The Pi has no analog inputs, so the
// battery divider is wired to one of its channels.
const (
	mcp3208Bits     = 12
	mcp3208Channels = 8
	spiSpeedHz      = 1_000_000
)

// RPIO drives the Raspberry Pi GPIO block through /dev/gpiomem and samples an
// MCP3208 on SPI0.
type RPIO struct {
	spiMu sync.Mutex
	chip  uint8
	spi   bool
}

// RPIOConfig selects the SPI chip-select line of the ADC.
type RPIOConfig struct {
	ChipSelect uint8
}

// OpenRPIO maps the GPIO registers and starts SPI0.
func OpenRPIO(cfg RPIOConfig) (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("hal rpio: open gpio: %w", err)
	}
	b := &RPIO{chip: cfg.ChipSelect}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("hal rpio: spi begin: %w", err)
	}
	rpio.SpiChipSelect(b.chip)
	rpio.SpiSpeed(spiSpeedHz)
	rpio.SpiMode(0, 0)
	b.spi = true
	return b, nil
}

func (b *RPIO) SetDirection(pin Pin, mode Mode) error {
	p := rpio.Pin(pin)
	switch mode {
	case ModeOutput:
		p.Output()
	case ModeInput:
		p.Input()
	default:
		return fmt.Errorf("hal rpio: mode %d: %w", mode, ErrUnsupported)
	}
	return nil
}

func (b *RPIO) SetLevel(pin Pin, level Level) error {
	p := rpio.Pin(pin)
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// ConfigWidth only accepts the converter's native resolution.
func (b *RPIO) ConfigWidth(bits uint8) error {
	if bits != mcp3208Bits {
		return fmt.Errorf("hal rpio: mcp3208 width %d: %w", bits, ErrUnsupported)
	}
	return nil
}

// ConfigChannelAttenuation accepts 0 dB only; the MCP3208 has no input stage.
func (b *RPIO) ConfigChannelAttenuation(ch Channel, atten Attenuation) error {
	if ch >= mcp3208Channels {
		return fmt.Errorf("hal rpio: channel %d: %w", ch, ErrUnsupported)
	}
	if atten != Atten0dB {
		return fmt.Errorf("hal rpio: attenuation %d: %w", atten, ErrUnsupported)
	}
	return nil
}

func (b *RPIO) RawSample(ch Channel) (int, error) {
	if ch >= mcp3208Channels {
		return 0, fmt.Errorf("hal rpio: channel %d: %w", ch, ErrUnsupported)
	}
	buf := mcp3208Request(ch)

	b.spiMu.Lock()
	rpio.SpiExchange(buf)
	b.spiMu.Unlock()

	return mcp3208Decode(buf), nil
}

// Close releases SPI and unmaps the GPIO registers.
func (b *RPIO) Close() error {
	if b.spi {
		rpio.SpiEnd(rpio.Spi0)
		b.spi = false
	}
	return rpio.Close()
}

// mcp3208Request builds a single-ended conversion request:
// start bit, SGL/DIFF=1, D2 in the first byte; D1,D0 in the top of the second.
func mcp3208Request(ch Channel) []byte {
	return []byte{
		0x06 | byte(ch>>2)&0x01,
		byte(ch&0x03) << 6,
		0x00,
	}
}

// mcp3208Decode extracts the 12-bit result clocked out during the exchange.
func mcp3208Decode(rx []byte) int {
	if len(rx) < 3 {
		return 0
	}
	return int(rx[1]&0x0F)<<8 | int(rx[2])
}
