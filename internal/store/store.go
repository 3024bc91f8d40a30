// Package store persists the little state a valve node keeps across
// reboots: the network it joined and a boot counter.
package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Network state
	SaveNetworkState(state *NetworkState) error
	GetNetworkState() (*NetworkState, error)
	ClearNetworkState() error

	// IncrementBootCount records one boot and returns the new count.
	IncrementBootCount() (uint32, error)

	Close() error
}
