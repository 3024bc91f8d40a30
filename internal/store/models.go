package store

import "time"

// NetworkState is the network the node last joined.
type NetworkState struct {
	Joined    bool      `json:"joined"`
	Channel   uint8     `json:"channel"`
	PanID     uint16    `json:"pan_id"`
	ExtPanID  string    `json:"ext_pan_id"` // 16 hex digits, MSB first
	ShortAddr uint16    `json:"short_addr"`
	JoinedAt  time.Time `json:"joined_at"`
}
