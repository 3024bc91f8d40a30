// Package valve drives a latching valve through two digital lines: one that
// opens it and one that closes it. The lines are never asserted together.
package valve

import (
	"fmt"
	"log/slog"
	"sync"

	"zigbee-valve/internal/hal"
)

// Pins selects the two actuator lines.
type Pins struct {
	On  hal.Pin // asserted while the valve is open
	Off hal.Pin // asserted while the valve is closed
}

// Driver owns the two actuator lines.
type Driver struct {
	gpio   hal.GPIO
	pins   Pins
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

// New configures both lines as outputs and drives the valve closed before
// returning. An error means the lines could not be put into the safe state.
func New(gpio hal.GPIO, pins Pins, logger *slog.Logger) (*Driver, error) {
	if pins.On == pins.Off {
		return nil, fmt.Errorf("valve: on and off lines share pin %d", pins.On)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{gpio: gpio, pins: pins, logger: logger}

	for _, p := range []hal.Pin{pins.On, pins.Off} {
		if err := gpio.SetDirection(p, hal.ModeOutput); err != nil {
			return nil, fmt.Errorf("valve: set pin %d output: %w", p, err)
		}
	}
	if err := gpio.SetLevel(pins.On, hal.Low); err != nil {
		return nil, fmt.Errorf("valve: release on line: %w", err)
	}
	if err := gpio.SetLevel(pins.Off, hal.High); err != nil {
		return nil, fmt.Errorf("valve: assert off line: %w", err)
	}
	return d, nil
}

// SetValve opens or closes the valve. The released line goes low before the
// requested line goes high. Pin errors are logged, not returned.
func (d *Driver) SetValve(open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	release, assert := d.pins.On, d.pins.Off
	if open {
		release, assert = d.pins.Off, d.pins.On
	}
	if err := d.gpio.SetLevel(release, hal.Low); err != nil {
		d.logger.Error("release actuator line", "pin", release, "err", err)
		// Asserting now could leave both lines high.
		return
	}
	if err := d.gpio.SetLevel(assert, hal.High); err != nil {
		d.logger.Error("assert actuator line", "pin", assert, "err", err)
		return
	}
	d.open = open
	d.logger.Info("valve set", "open", open)
}

// Open reports the last state SetValve completed.
func (d *Driver) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
