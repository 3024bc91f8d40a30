package node

import "sync/atomic"

// BatteryCell holds the last measured battery percentage. The reporting loop
// is its only writer; any goroutine may read it.
type BatteryCell struct {
	v atomic.Uint32
}

// Store records p, clamped to 100.
func (c *BatteryCell) Store(p uint8) {
	c.v.Store(uint32(min(p, 100)))
}

// Load returns the last stored percentage, 0 before the first measurement.
func (c *BatteryCell) Load() uint8 {
	return uint8(c.v.Load())
}
