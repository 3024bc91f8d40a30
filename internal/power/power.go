// Package power converts raw ADC samples of the battery divider into a
// voltage and a remaining-capacity percentage.
package power

import (
	"fmt"
	"math"

	"zigbee-valve/internal/hal"
)

// Config describes the divider, the converter and the battery's usable range.
type Config struct {
	Channel     hal.Channel
	Attenuation hal.Attenuation
	WidthBits   uint8
	RefVoltage  float64 // full-scale ADC input voltage
	R1          float64 // ohms, battery side
	R2          float64 // ohms, ground side
	VoltageMin  float64 // reads as 0 %
	VoltageMax  float64 // reads as 100 %
}

// DefaultConfig matches a single Li-ion cell on a 10k/4.7k divider sampled
// by a 12-bit converter with a 3.3 V reference.
func DefaultConfig() Config {
	return Config{
		Channel:     6,
		Attenuation: hal.Atten0dB,
		WidthBits:   12,
		RefVoltage:  3.3,
		R1:          10000,
		R2:          4700,
		VoltageMin:  2.5,
		VoltageMax:  4.2,
	}
}

// Validate rejects configurations that would divide by zero or invert the range.
func (c Config) Validate() error {
	switch {
	case c.WidthBits == 0 || c.WidthBits > 16:
		return fmt.Errorf("power: width %d bits out of range", c.WidthBits)
	case c.RefVoltage <= 0:
		return fmt.Errorf("power: reference voltage must be positive")
	case c.R1 < 0 || c.R2 <= 0:
		return fmt.Errorf("power: divider resistors must be positive")
	case c.VoltageMax <= c.VoltageMin:
		return fmt.Errorf("power: voltage_max %.2f must exceed voltage_min %.2f", c.VoltageMax, c.VoltageMin)
	}
	return nil
}

// Reading is one battery sample.
type Reading struct {
	Voltage    float64
	Percentage uint8
}

// Sensor samples the battery.
type Sensor struct {
	adc hal.ADC
	cfg Config
}

func NewSensor(adc hal.ADC, cfg Config) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sensor{adc: adc, cfg: cfg}, nil
}

// Init programs the converter width and the channel attenuation.
func (s *Sensor) Init() error {
	if err := s.adc.ConfigWidth(s.cfg.WidthBits); err != nil {
		return fmt.Errorf("power: config width: %w", err)
	}
	if err := s.adc.ConfigChannelAttenuation(s.cfg.Channel, s.cfg.Attenuation); err != nil {
		return fmt.Errorf("power: config attenuation: %w", err)
	}
	return nil
}

// ReadVoltage takes a single unfiltered sample and returns the battery
// voltage ahead of the divider.
func (s *Sensor) ReadVoltage() (float64, error) {
	raw, err := s.adc.RawSample(s.cfg.Channel)
	if err != nil {
		return 0, fmt.Errorf("power: sample channel %d: %w", s.cfg.Channel, err)
	}
	maxRaw := float64(int(1)<<s.cfg.WidthBits - 1)
	adcVoltage := float64(raw) / maxRaw * s.cfg.RefVoltage
	ratio := s.cfg.R2 / (s.cfg.R1 + s.cfg.R2)
	return adcVoltage / ratio, nil
}

// VoltageToPercentage maps v linearly onto [0,100] between the configured
// limits. The fractional part is truncated.
func (s *Sensor) VoltageToPercentage(v float64) uint8 {
	return Percentage(v, s.cfg.VoltageMin, s.cfg.VoltageMax)
}

// Read samples once and converts.
func (s *Sensor) Read() (Reading, error) {
	v, err := s.ReadVoltage()
	if err != nil {
		return Reading{}, err
	}
	return Reading{Voltage: v, Percentage: s.VoltageToPercentage(v)}, nil
}

// Percentage is the saturating linear map used by Sensor.VoltageToPercentage.
func Percentage(v, minV, maxV float64) uint8 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= maxV:
		return 100
	case v <= minV:
		return 0
	}
	p := (v - minV) / (maxV - minV) * 100
	if p > 100 {
		p = 100
	}
	return uint8(p)
}
